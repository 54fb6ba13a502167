package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"qms/campus-queue/internal/identity"
	"qms/campus-queue/internal/models"
	"qms/campus-queue/internal/store"
	"qms/campus-queue/internal/store/postgres"
)

func newMigrateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			pool, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := postgres.ApplyMigrations(cmd.Context(), pool, dir)
			if err != nil {
				return err
			}
			log.Info("migrations applied", zap.String("dir", dir), zap.Strings("files", applied))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "migrations directory (defaults to MIGRATIONS_DIR)")
	return cmd
}

type seedFile struct {
	Departments []seedDepartment `yaml:"departments"`
}

type seedDepartment struct {
	Name               string `yaml:"name"`
	Description        string `yaml:"description"`
	AverageServiceTime int    `yaml:"average_service_time"`
	Color              string `yaml:"color"`
	Active             *bool  `yaml:"active"`
}

// parseSeed reads a departments seed file. Names must be present and unique.
func parseSeed(data []byte) ([]store.DepartmentInput, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	seen := make(map[string]bool, len(file.Departments))
	out := make([]store.DepartmentInput, 0, len(file.Departments))
	for i, d := range file.Departments {
		name := strings.TrimSpace(d.Name)
		if name == "" {
			return nil, fmt.Errorf("department %d: name is required", i+1)
		}
		key := strings.ToLower(name)
		if seen[key] {
			return nil, fmt.Errorf("department %q listed twice", name)
		}
		seen[key] = true
		if d.AverageServiceTime < 0 {
			return nil, fmt.Errorf("department %q: average_service_time must not be negative", name)
		}
		out = append(out, store.DepartmentInput{
			Name:               name,
			Description:        strings.TrimSpace(d.Description),
			AverageServiceTime: d.AverageServiceTime,
			Color:              strings.TrimSpace(d.Color),
			IsActive:           d.Active,
		})
	}
	return out, nil
}

func newSeedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create departments from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			inputs, err := parseSeed(data)
			if err != nil {
				return err
			}

			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			pool, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			st := postgres.NewStore(pool, postgres.Options{Logger: log})

			created := 0
			for _, input := range inputs {
				dept, err := st.CreateDepartment(cmd.Context(), input)
				if errors.Is(err, store.ErrDepartmentExists) {
					log.Info("department exists, skipped", zap.String("name", input.Name))
					continue
				}
				if err != nil {
					return fmt.Errorf("create department %q: %w", input.Name, err)
				}
				created++
				log.Info("department created", zap.String("id", dept.ID), zap.String("name", dept.Name))
			}
			log.Info("seed complete", zap.Int("created", created), zap.Int("listed", len(inputs)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "departments.yaml", "seed file")
	return cmd
}

func newCreateUserCmd() *cobra.Command {
	var input store.CreateUserInput
	var password string
	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create an admin, staff or student account",
		RunE: func(cmd *cobra.Command, args []string) error {
			input.Email = strings.ToLower(strings.TrimSpace(input.Email))
			input.Role = strings.ToLower(strings.TrimSpace(input.Role))
			if input.Email == "" || password == "" {
				return errors.New("--email and --password are required")
			}
			switch input.Role {
			case models.RoleAdmin, models.RoleStaff, models.RoleUser:
			default:
				return fmt.Errorf("unknown role %q", input.Role)
			}
			if input.FullName == "" {
				input.FullName = input.Email
			}
			hash, err := identity.HashPassword(password)
			if err != nil {
				return err
			}
			input.PasswordHash = hash

			cfg, log, err := bootstrap()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			pool, err := connect(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			user, err := postgres.NewStore(pool, postgres.Options{Logger: log}).CreateUser(cmd.Context(), input)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			log.Info("user created", zap.String("id", user.ID), zap.String("email", user.Email), zap.String("role", user.Role))
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&input.Email, "email", "", "login email")
	flags.StringVar(&password, "password", "", "login password")
	flags.StringVar(&input.FullName, "name", "", "full name")
	flags.StringVar(&input.Role, "role", models.RoleStaff, "admin, staff or user")
	flags.StringVar(&input.Department, "department", "", "department name for staff")
	flags.StringVar(&input.Phone, "phone", "", "contact phone")
	return cmd
}

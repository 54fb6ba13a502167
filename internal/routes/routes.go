package routes

import (
	"sort"
	"strings"
)

const (
	Home               = "Home"
	AdminDashboard     = "AdminDashboard"
	Analytics          = "Analytics"
	RequestStaffAccess = "RequestStaffAccess"
	RoleSelection      = "RoleSelection"
	StaffDashboard     = "StaffDashboard"
	StaffLogin         = "StaffLogin"
	StudentDashboard   = "StudentDashboard"
	StudentEntry       = "StudentEntry"
	StudentTakeTicket  = "StudentTakeTicket"
	StudentTicketView  = "StudentTicketView"
	TakeTicket         = "TakeTicket"
)

var pages = map[string]string{
	Home:               "/",
	AdminDashboard:     "/admin",
	Analytics:          "/analytics",
	RequestStaffAccess: "/request-staff-access",
	RoleSelection:      "/role-selection",
	StaffDashboard:     "/staff-dashboard",
	StaffLogin:         "/staff-login",
	StudentDashboard:   "/student-dashboard",
	StudentEntry:       "/student-entry",
	StudentTakeTicket:  "/student-take-ticket",
	StudentTicketView:  "/student-ticket-view",
	TakeTicket:         "/take-ticket",
}

// Path maps a page name to its URL path. Unknown names become "/" plus the
// lowercased name.
func Path(name string) string {
	if path, ok := pages[name]; ok {
		return path
	}
	return "/" + strings.ToLower(name)
}

type Route struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Table lists the known pages sorted by name.
func Table() []Route {
	out := make([]Route, 0, len(pages))
	for name, path := range pages {
		out = append(out, Route{Name: name, Path: path})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

package shell

import "fastbudget/internal/core"

// Endpoints the rendered shell posts to.
const (
	PathShell    = "/ui/shell"
	PathLogin    = "/login"
	PathRegister = "/register"
	PathLogout   = "/logout"
	PathTheme    = "/theme"
	PathRetry    = "/session/retry"
	pathViews    = "/views/"
)

// ViewPath is the endpoint that makes v the active view.
func ViewPath(v core.View) string { return pathViews + v.String() }

type SidebarItem struct {
	View   core.View
	Label  string
	Active bool
	Path   string
}

type Actions struct {
	Shell    string
	Login    string
	Register string
	Logout   string
	Theme    string
	Retry    string
}

// Props is everything the templates need to render one shell.
type Props struct {
	ClientID      string
	User          *core.User
	Token         string `json:"-"`
	Authenticated bool
	Resolving     bool
	Unavailable   bool
	ActiveView    core.View
	Sidebar       []SidebarItem
	DarkMode      bool
	// AppClasses is the class attribute of the app container, RootClasses the
	// one of the document body.
	AppClasses  string
	RootClasses string
	Actions     Actions
}

func defaultActions() Actions {
	return Actions{
		Shell:    PathShell,
		Login:    PathLogin,
		Register: PathRegister,
		Logout:   PathLogout,
		Theme:    PathTheme,
		Retry:    PathRetry,
	}
}

func sidebar(active core.View) []SidebarItem {
	views := core.AllViews()
	items := make([]SidebarItem, 0, len(views))
	for _, v := range views {
		items = append(items, SidebarItem{
			View:   v,
			Label:  v.Title(),
			Active: v == active,
			Path:   ViewPath(v),
		})
	}
	return items
}

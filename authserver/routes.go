package authserver

import (
	"net/http"

	"github.com/jmcleod/gw2link/account"
	"github.com/jmcleod/gw2link/web"
)

// Paths the handoff pages redirect between.
const (
	PathRoot      = "/"
	PathLogin     = "/login"
	PathBadData   = "/login_baddata"
	PathFailed    = "/login_failed"
	PathNoAccount = "/login_noaccount"
	PathFinished  = "/finished"
)

type routeKind int

const (
	pageRoute routeKind = iota
	loginRoute
)

type route struct {
	method string
	path   string
	kind   routeKind
	page   string
}

// routes is the complete request surface. It is mounted once by New.
var routes = []route{
	{http.MethodGet, PathRoot, pageRoute, web.PageLogin},
	{http.MethodGet, PathLogin, pageRoute, web.PageLogin},
	{http.MethodGet, PathBadData, pageRoute, web.PageBadData},
	{http.MethodGet, PathFailed, pageRoute, web.PageFailed},
	{http.MethodGet, PathNoAccount, pageRoute, web.PageNoAccount},
	{http.MethodGet, PathFinished, pageRoute, web.PageFinished},
	{http.MethodPost, PathRoot, loginRoute, ""},
	{http.MethodPost, PathLogin, loginRoute, ""},
}

// redirectFor maps an authorization outcome to the page the browser lands on.
func redirectFor(outcome account.Outcome) string {
	switch outcome {
	case account.OutcomeFinished:
		return PathFinished
	case account.OutcomeFailedNoAccount:
		return PathNoAccount
	case account.OutcomeFailedBadData:
		return PathBadData
	default:
		return PathFailed
	}
}

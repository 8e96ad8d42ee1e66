package api

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/gorilla/mux"
)

// RouteInfo is one registered path and the methods it accepts
type RouteInfo struct {
	Methods string
	Path    string
}

// ListRoutes walks the router and returns every route with a path template
func ListRoutes(r *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo
	err := r.Walk(func(route *mux.Route, router *mux.Router, ancestors []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			// Subrouters without their own path
			return nil
		}
		methods, err := route.GetMethods()
		if err != nil || len(methods) == 0 {
			methods = []string{"ANY"}
		}
		routes = append(routes, RouteInfo{Methods: strings.Join(methods, ","), Path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(routes, func(i, j int) bool { return routes[i].Path < routes[j].Path })
	return routes, nil
}

// PrintRoutes writes the route table to w
func PrintRoutes(w io.Writer, r *mux.Router) error {
	routes, err := ListRoutes(r)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tPATH")
	for _, route := range routes {
		if route.Path == "/api" {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\n", route.Methods, route.Path)
	}
	return tw.Flush()
}

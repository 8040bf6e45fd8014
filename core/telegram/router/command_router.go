package router

import (
	"log/slog"
	"slices"

	"github.com/m3rciful/cbtbot/core/logger"
	tg "github.com/m3rciful/cbtbot/core/telegram"
	"github.com/m3rciful/cbtbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes returns one route per registered slash command, in name
// order. Admin-only commands check the sender before anything else runs.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}
	adminOnly := middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		AdminID:  opts.AdminID,
		OnReject: opts.OnAdminReject,
	})

	cmds := reg.Commands()
	names := make([]string, 0, len(cmds))
	for name := range cmds {
		names = append(names, name)
	}
	slices.Sort(names)

	routes := make([]tg.Route, 0, len(names))
	admin := 0
	for _, name := range names {
		def := cmds[name]
		if def.Handler == nil {
			continue
		}
		h := middleware.LoggerMiddleware(middleware.RecoverMiddleware(def.Handler))
		if def.AdminOnly {
			h = adminOnly(h)
			admin++
		}
		routes = append(routes, tg.Route{Endpoint: name, Handler: h})
	}

	logger.TWire.Info("tg.wire",
		slog.String("event", "complete"),
		slog.Int("commands", len(routes)),
		slog.Int("admin_commands", admin),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)
	return routes
}

package app

import (
	"log/slog"

	"github.com/m3rciful/cbtbot/core/logger"
	coretelegram "github.com/m3rciful/cbtbot/core/telegram"
	"github.com/m3rciful/cbtbot/core/telegram/commands"
	tghelpers "github.com/m3rciful/cbtbot/core/telegram/helpers"
	"github.com/m3rciful/cbtbot/core/telegram/router"
	"github.com/m3rciful/cbtbot/internal/timefmt"

	tele "gopkg.in/telebot.v4"
)

func (a *App) registerCommands(reg *coretelegram.Registry) {
	reg.RegisterCommand("/start", commands.Command{
		Handler:     a.inbound.Start,
		Description: "Main menu",
	})
	reg.RegisterCommand("/cancel", commands.Command{
		Handler:     a.inbound.Cancel,
		Description: "End the conversation",
		Aliases:     []string{"stop"},
	})
	reg.RegisterCommand("/status", commands.Command{
		Handler:     a.status,
		Description: "Scheduler status",
		AdminOnly:   true,
	})
	reg.RegisterCommand("/clear_broadcasts", commands.Command{
		Handler:     a.clearBroadcasts,
		Description: "Cancel and delete scheduled broadcasts",
		AdminOnly:   true,
	})

	// Dialog buttons are not registered one by one; every press goes
	// through the engine's transition table.
	reg.SetCallbackNotFound(a.inbound.Callback)
	reg.SetTextFallback(a.inbound.HandleMessage)
}

func (a *App) routes(reg *coretelegram.Registry) []coretelegram.Route {
	routes := router.CommandRoutes(reg, router.CommandRouteOptions{
		AdminID:       a.cfg.Telegram.AdminID,
		OnAdminReject: a.rejectAdmin,
	})
	routes = append(routes, router.CallbackRoute(reg, router.CallbackOptions{}))
	routes = append(routes, router.MessageRoutes(a.inbound, reg, router.MessageOptions{})...)
	return routes
}

func (a *App) status(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	st, err := a.service.Status(ctx)
	if err != nil {
		return err
	}
	none := a.catalog.Text("status_none")
	next, webinar := none, none
	if st.HasNext {
		next = timefmt.Format(st.NextFire, a.loc)
	}
	if st.Webinar != nil {
		webinar = timefmt.Format(st.Webinar.FireAt, a.loc)
	}
	ds := a.pool.Stats()
	return tghelpers.SendHTML(c, a.catalog.Textf("status",
		st.Armed, st.Broadcasts, st.Reminders, next, st.Recipients, webinar,
		ds.Queued, ds.Done, ds.Failed, ds.Unreachable))
}

func (a *App) clearBroadcasts(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	n, err := a.service.ClearBroadcasts(ctx)
	if err != nil {
		return err
	}
	return tghelpers.SendText(c, a.catalog.Textf("broadcasts_cleared", n))
}

func (a *App) rejectAdmin(c tele.Context) error {
	ctx := tghelpers.BuildContext(c)
	logger.Warn(ctx, "app", "admin.rejected", slog.String("command", c.Text()))
	return tghelpers.SendText(c, a.catalog.Text("admin_only"))
}

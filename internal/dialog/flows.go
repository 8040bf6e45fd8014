package dialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/m3rciful/cbtbot/core/logger"
	"github.com/m3rciful/cbtbot/core/telegram/format"
	"github.com/m3rciful/cbtbot/internal/content"
	"github.com/m3rciful/cbtbot/internal/schedule"
	"github.com/m3rciful/cbtbot/internal/timefmt"
)

func (e *Engine) back() Button {
	return Button{Text: e.cat.Button("back"), Key: "back"}
}

func (e *Engine) menuKeyboard(admin bool) [][]string {
	keys := []string{"courses", "projects", "webinars", "consultation", "awards", "affiliate", "cancel"}
	if admin {
		keys = append(keys, "set_webinar", "broadcast")
	}
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{e.cat.Button(k)})
	}
	return rows
}

// start enters the main menu with a fresh context and registers the recipient.
func (e *Engine) start(ctx context.Context, t *turn) (State, error) {
	if !t.admin {
		if err := e.registry.Register(ctx, t.s.RecipientID); err != nil {
			return t.s.State, fmt.Errorf("register recipient: %w", err)
		}
	}
	return e.mainMenu(ctx, t)
}

func (e *Engine) mainMenu(_ context.Context, t *turn) (State, error) {
	t.s.Ctx = Idle{}
	t.say(Screen{Text: e.cat.Text("greetings"), Reply: e.menuKeyboard(t.admin)})
	return StateMainMenu, nil
}

func (e *Engine) cancel(_ context.Context, t *turn) (State, error) {
	t.say(Screen{Text: e.cat.Text("goodbye"), RemoveKeyboard: true})
	return StateEnd, nil
}

func (e *Engine) goodbye(ctx context.Context, t *turn) (State, error) {
	return e.cancel(ctx, t)
}

func (e *Engine) finishMenu(_ context.Context, t *turn) (State, error) {
	t.s.Ctx = Idle{}
	t.say(Screen{
		Text: e.cat.Text("finish_question"),
		Inline: [][]Button{{
			{Text: e.cat.Button("yes"), Key: "yes"},
			{Text: e.cat.Button("no"), Key: "no"},
		}},
	})
	return StateFinishRegistration, nil
}

func entryButtons(list []Entry, key string) [][]Button {
	rows := make([][]Button, 0, len(list)+1)
	for _, it := range list {
		rows = append(rows, []Button{{Text: it.Title, Key: key, Data: it.ID}})
	}
	return rows
}

func (e *Engine) showCourses(_ context.Context, t *turn) (State, error) {
	t.s.Ctx = Browsing{}
	t.say(Screen{
		Text:   e.cat.Text("courses_intro"),
		Inline: append(entryButtons(e.cat.Courses, "course"), []Button{e.back()}),
	})
	return StateCourseMenu, nil
}

func (e *Engine) showCourse(_ context.Context, t *turn) (State, error) {
	course, ok := e.cat.Course(t.in.Data)
	if !ok {
		return t.s.State, nil
	}
	t.s.Ctx = Browsing{Course: course.ID}
	t.say(Screen{
		Text:   "<b>" + format.EscapeHTML(course.Title) + "</b>\n" + course.Description,
		Inline: [][]Button{{{Text: e.cat.Button("register"), Key: "register"}}, {e.back()}},
	})
	return StateCourseDetail, nil
}

func (e *Engine) showProjects(_ context.Context, t *turn) (State, error) {
	t.s.Ctx = Browsing{}
	t.say(Screen{
		Text:   e.cat.Text("projects_intro"),
		Inline: append(entryButtons(e.cat.Projects, "project"), []Button{e.back()}),
	})
	return StateProjectMenu, nil
}

func (e *Engine) showProject(_ context.Context, t *turn) (State, error) {
	project, ok := e.cat.Project(t.in.Data)
	if !ok {
		return t.s.State, nil
	}
	t.s.Ctx = Browsing{Project: project.ID}
	t.say(Screen{
		Text:   "<b>" + format.EscapeHTML(project.Title) + "</b>\n" + project.Description,
		Inline: [][]Button{{{Text: e.cat.Button("register"), Key: "register"}}, {e.back()}},
	})
	return StateProjectDetail, nil
}

func (e *Engine) showWebinar(ctx context.Context, t *turn) (State, error) {
	ws, err := e.sched.Webinar(ctx)
	if err != nil {
		return t.s.State, err
	}
	if ws == nil || !ws.FireAt.After(e.now()) {
		t.say(Screen{Text: e.cat.Text("webinar_unplanned")})
		return StateMainMenu, nil
	}
	t.say(
		Screen{Text: e.cat.Text("webinar_greetings"), RemoveKeyboard: true},
		Screen{
			Text:   e.cat.Textf("webinar_info", timefmt.Format(ws.FireAt, e.loc)),
			Inline: [][]Button{{{Text: e.cat.Button("register"), Key: "register"}}, {e.back()}},
		},
	)
	return StateWebinarMenu, nil
}

func (e *Engine) showAwards(_ context.Context, t *turn) (State, error) {
	t.say(Screen{Text: e.cat.Text("awards_greetings"), RemoveKeyboard: true})
	if len(e.cat.Awards) > 0 {
		t.say(Screen{Media: e.cat.Awards})
	}
	t.say(Screen{Text: e.cat.Text("awards_info"), Inline: [][]Button{{e.back()}}})
	return StateAwardsMenu, nil
}

func (e *Engine) showAffiliate(_ context.Context, t *turn) (State, error) {
	t.say(
		Screen{Text: e.cat.Text("affiliate_greetings"), RemoveKeyboard: true},
		Screen{Text: e.cat.Text("affiliate_info"), Inline: [][]Button{{e.back()}}},
	)
	return StateAffiliateMenu, nil
}

// Registration.

func (e *Engine) registerFor(purpose string) step {
	return func(ctx context.Context, t *turn) (State, error) {
		return e.beginRegistration(t, Registering{Purpose: purpose})
	}
}

func (e *Engine) registerForCourse(_ context.Context, t *turn) (State, error) {
	var subject string
	if b, ok := t.s.Ctx.(Browsing); ok {
		if c, found := e.cat.Course(b.Course); found {
			subject = c.Title
		}
	}
	return e.beginRegistration(t, Registering{Purpose: PurposeCourse, Subject: subject})
}

func (e *Engine) registerForProject(_ context.Context, t *turn) (State, error) {
	var subject string
	if b, ok := t.s.Ctx.(Browsing); ok {
		if p, found := e.cat.Project(b.Project); found {
			subject = p.Title
		}
	}
	return e.beginRegistration(t, Registering{Purpose: PurposeProject, Subject: subject})
}

func (e *Engine) beginRegistration(t *turn, reg Registering) (State, error) {
	t.s.Ctx = reg
	t.say(Screen{
		Text:   e.cat.Text("ask_name"),
		Inline: [][]Button{{{Text: e.cat.Button("cancel_registration"), Key: "cancel_registration"}}},
	})
	return StateAskName, nil
}

// registering returns the form in progress. A missing form means the session
// was corrupted; starting a consultation form keeps the flow usable.
func registering(t *turn) Registering {
	if r, ok := t.s.Ctx.(Registering); ok {
		return r
	}
	return Registering{Purpose: PurposeConsultation}
}

func (e *Engine) takeName(_ context.Context, t *turn) (State, error) {
	name := strings.TrimSpace(t.in.Text)
	if name == "" {
		return t.s.State, nil
	}
	reg := registering(t)
	reg.Name = name
	t.s.Ctx = reg
	return e.askPhone(t)
}

func (e *Engine) askPhone(t *turn) (State, error) {
	t.say(Screen{Text: e.cat.Text("ask_phone"), RequestContact: e.cat.Button("share_phone")})
	return StateAskPhone, nil
}

func (e *Engine) askPhoneAgain(_ context.Context, t *turn) (State, error) {
	return e.askPhone(t)
}

func (e *Engine) takePhone(_ context.Context, t *turn) (State, error) {
	reg := registering(t)
	reg.Phone = strings.TrimSpace(t.in.Text)
	t.s.Ctx = reg
	t.say(Screen{Text: e.cat.Text("ask_city"), RemoveKeyboard: true})
	return StateAskCity, nil
}

func (e *Engine) takeCity(_ context.Context, t *turn) (State, error) {
	city := strings.TrimSpace(t.in.Text)
	if city == "" {
		return t.s.State, nil
	}
	reg := registering(t)
	reg.City = city
	t.s.Ctx = reg
	t.say(Screen{Text: e.cat.Text("ask_email")})
	return StateAskEmail, nil
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func (e *Engine) takeEmail(_ context.Context, t *turn) (State, error) {
	email := strings.TrimSpace(t.in.Text)
	if !validEmail(email) {
		t.say(Screen{Text: e.cat.Text("wrong_email")})
		return t.s.State, nil
	}
	reg := registering(t)
	reg.Email = email
	t.s.Ctx = reg
	t.say(Screen{
		Text: e.cat.Textf("confirmation",
			format.EscapeHTML(reg.Name),
			format.EscapeHTML(reg.Phone),
			format.EscapeHTML(reg.City),
			format.EscapeHTML(reg.Email),
		),
		Inline: [][]Button{
			{{Text: e.cat.Button("yes"), Key: "yes"}},
			{{Text: e.cat.Button("no"), Key: "no"}},
		},
	})
	return StateConfirmRegistration, nil
}

func purposeLabel(reg Registering) string {
	if reg.Subject == "" {
		return reg.Purpose
	}
	return reg.Purpose + ": " + reg.Subject
}

func (e *Engine) confirmRegistration(ctx context.Context, t *turn) (State, error) {
	reg := registering(t)

	// The reminder is stored before the operator hears about the registration,
	// so a storage failure keeps the user here to confirm again.
	var reminder Screen
	if reg.Purpose == PurposeWebinar {
		at, err := e.sched.SubscribeWebinar(ctx, t.s.RecipientID)
		switch {
		case errors.Is(err, schedule.ErrNoWebinar), errors.Is(err, schedule.ErrWebinarPast):
			reminder = Screen{Text: e.cat.Text("webinar_unavailable")}
		case err != nil:
			return t.s.State, fmt.Errorf("subscribe webinar: %w", err)
		default:
			reminder = Screen{Text: e.cat.Textf("webinar_subscribed", timefmt.Format(at, e.loc))}
		}
	}

	if e.notify != nil {
		msg := e.cat.Textf("admin_registration",
			format.EscapeHTML(purposeLabel(reg)),
			format.EscapeHTML(reg.Name),
			format.EscapeHTML(reg.Phone),
			format.EscapeHTML(reg.City),
			format.EscapeHTML(reg.Email),
			t.s.RecipientID,
		)
		if err := e.notify.NotifyAdmin(ctx, msg); err != nil {
			return t.s.State, fmt.Errorf("notify admin: %w", err)
		}
	}
	logger.Info(ctx, "dialog", "registration.submitted",
		slog.Int64("recipient_id", t.s.RecipientID),
		slog.String("purpose", purposeLabel(reg)),
		slog.String("name", reg.Name),
		slog.String("phone", reg.Phone),
		slog.String("email", reg.Email),
	)
	t.say(Screen{Text: e.cat.Text("registration_done")})
	if reminder.Text != "" {
		t.say(reminder)
	}
	return e.finishMenu(ctx, t)
}

func (e *Engine) restartRegistration(_ context.Context, t *turn) (State, error) {
	reg := registering(t)
	return e.beginRegistration(t, Registering{Purpose: reg.Purpose, Subject: reg.Subject})
}

// Webinar administration.

func (e *Engine) askWebinarURL(ctx context.Context, t *turn) (State, error) {
	ws, err := e.sched.Webinar(ctx)
	if err != nil {
		return t.s.State, err
	}
	text := e.cat.Text("set_webinar_none")
	if ws != nil {
		text = e.cat.Textf("set_webinar_current", timefmt.Format(ws.FireAt, e.loc), format.EscapeHTML(ws.URL))
	}
	t.s.Ctx = ConfiguringWebinar{}
	t.say(Screen{Text: text, Inline: [][]Button{{e.back()}}})
	return StateSetWebinarURL, nil
}

func (e *Engine) takeWebinarURL(ctx context.Context, t *turn) (State, error) {
	url := strings.TrimSpace(t.in.Text)
	if url == "" {
		return t.s.State, nil
	}
	if url == "-" {
		if err := e.sched.RemoveWebinar(ctx); err != nil {
			return t.s.State, err
		}
		t.say(Screen{Text: e.cat.Text("webinar_removed")})
		return e.finishMenu(ctx, t)
	}
	t.s.Ctx = ConfiguringWebinar{URL: url}
	t.say(Screen{Text: e.cat.Text("set_webinar_time"), Inline: [][]Button{{e.back()}}})
	return StateSetWebinarTime, nil
}

func (e *Engine) takeWebinarTime(ctx context.Context, t *turn) (State, error) {
	at, err := timefmt.ParseFuture(t.in.Text, e.loc, e.now())
	if err != nil {
		t.say(Screen{Text: e.cat.Text("wrong_date")})
		return t.s.State, nil
	}
	cfg, _ := t.s.Ctx.(ConfiguringWebinar)
	if err := e.sched.SetWebinar(ctx, at, cfg.URL); err != nil {
		return t.s.State, err
	}
	t.say(Screen{Text: e.cat.Textf("webinar_set", timefmt.Format(at, e.loc))})
	return e.finishMenu(ctx, t)
}

// Broadcast composition.

func (e *Engine) stopButton() [][]Button {
	return [][]Button{{{Text: e.cat.Button("stop"), Key: "stop"}}}
}

func (e *Engine) beginBroadcast(_ context.Context, t *turn) (State, error) {
	buf := &content.Buffer{}
	buf.Begin()
	t.s.Ctx = Composing{Buffer: buf}
	t.say(
		Screen{Text: e.cat.Text("broadcast_start"), RemoveKeyboard: true},
		Screen{Text: e.cat.Text("broadcast_begin"), Inline: e.stopButton()},
	)
	return StateComposeBroadcast, nil
}

func composing(t *turn) *content.Buffer {
	if c, ok := t.s.Ctx.(Composing); ok && c.Buffer != nil {
		return c.Buffer
	}
	buf := &content.Buffer{}
	buf.Begin()
	t.s.Ctx = Composing{Buffer: buf}
	return buf
}

func (e *Engine) collect(_ context.Context, t *turn) (State, error) {
	buf := composing(t)
	item := content.Text(t.in.Text)
	if t.in.Media {
		item = content.Media(t.in.Text)
	}
	if err := buf.Append(item); err != nil {
		return t.s.State, err
	}
	// Album parts arrive as separate events; acknowledging each would flood the chat.
	if t.in.MediaGroupID == "" {
		t.say(Screen{Text: e.cat.Text("broadcast_continue"), Inline: e.stopButton()})
	}
	return StateComposeBroadcast, nil
}

func (e *Engine) stopBroadcast(ctx context.Context, t *turn) (State, error) {
	buf := composing(t)
	items := buf.Stop()
	if len(items) == 0 {
		t.say(Screen{Text: e.cat.Text("broadcast_nothing")})
		return e.finishMenu(ctx, t)
	}
	p := buf.Payload()
	for _, text := range p.Texts {
		t.say(Screen{Text: text, Plain: true})
	}
	if len(p.Media) > 0 {
		t.say(Screen{Media: p.Media})
	}
	t.say(Screen{
		Text: e.cat.Text("broadcast_confirmation"),
		Inline: [][]Button{
			{{Text: e.cat.Button("confirm"), Key: "confirm"}},
			{{Text: e.cat.Button("start_over"), Key: "start_over"}},
		},
	})
	return StateReviewBroadcastSchedule, nil
}

func (e *Engine) askBroadcastTime(_ context.Context, t *turn) (State, error) {
	t.say(Screen{Text: e.cat.Text("broadcast_ask_time")})
	return StateAwaitBroadcastTime, nil
}

func (e *Engine) restartBroadcast(_ context.Context, t *turn) (State, error) {
	composing(t).Restart()
	t.say(Screen{Text: e.cat.Text("broadcast_restart"), Inline: e.stopButton()})
	return StateComposeBroadcast, nil
}

func (e *Engine) takeBroadcastTime(ctx context.Context, t *turn) (State, error) {
	at, err := timefmt.ParseFuture(t.in.Text, e.loc, e.now())
	if err != nil {
		t.say(Screen{Text: e.cat.Text("wrong_date")})
		return t.s.State, nil
	}
	payload := composing(t).Payload()
	if _, err := e.sched.CommitBroadcast(ctx, at, payload); err != nil {
		if errors.Is(err, schedule.ErrEmptyPayload) {
			t.say(Screen{Text: e.cat.Text("broadcast_nothing")})
			return e.finishMenu(ctx, t)
		}
		return t.s.State, err
	}
	t.say(Screen{Text: e.cat.Textf("broadcast_scheduled", timefmt.Format(at, e.loc))})
	return e.finishMenu(ctx, t)
}

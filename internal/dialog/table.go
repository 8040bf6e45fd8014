package dialog

import "context"

// Wildcard input keys matched when no button key applies.
const (
	inText     = "*text"
	inContact  = "*contact"
	inMedia    = "*media"
	inCallback = "*callback"
)

type step func(ctx context.Context, t *turn) (State, error)

type table map[State]map[string]step

// buildTable lists, per state, every input the state accepts. Anything else
// is ignored and leaves the state unchanged.
func (e *Engine) buildTable() table {
	return table{
		StateMainMenu: {
			"courses":      e.showCourses,
			"projects":     e.showProjects,
			"webinars":     e.showWebinar,
			"consultation": e.registerFor(PurposeConsultation),
			"awards":       e.showAwards,
			"affiliate":    e.showAffiliate,
			"cancel":       e.cancel,
			"set_webinar":  e.adminOnly(e.askWebinarURL),
			"broadcast":    e.adminOnly(e.beginBroadcast),
		},
		StateCourseMenu: {
			"course": e.showCourse,
			"back":   e.mainMenu,
		},
		StateCourseDetail: {
			"register": e.registerForCourse,
			"back":     e.showCourses,
		},
		StateProjectMenu: {
			"project": e.showProject,
			"back":    e.mainMenu,
		},
		StateProjectDetail: {
			"register": e.registerForProject,
			"back":     e.showProjects,
		},
		StateWebinarMenu: {
			"register": e.registerFor(PurposeWebinar),
			"back":     e.mainMenu,
		},
		StateAwardsMenu: {
			"back":     e.mainMenu,
			inCallback: e.finishMenu,
		},
		StateAffiliateMenu: {
			"back":     e.mainMenu,
			inCallback: e.finishMenu,
		},
		StateAskName: {
			"cancel_registration": e.finishMenu,
			inText:                e.takeName,
		},
		StateAskPhone: {
			inContact: e.takePhone,
			inText:    e.askPhoneAgain,
		},
		StateAskCity: {
			inText: e.takeCity,
		},
		StateAskEmail: {
			inText: e.takeEmail,
		},
		StateConfirmRegistration: {
			"yes": e.confirmRegistration,
			"no":  e.restartRegistration,
		},
		StateFinishRegistration: {
			"yes": e.mainMenu,
			"no":  e.goodbye,
		},
		StateSetWebinarURL: {
			"back": e.mainMenu,
			inText: e.takeWebinarURL,
		},
		StateSetWebinarTime: {
			"back": e.mainMenu,
			inText: e.takeWebinarTime,
		},
		StateComposeBroadcast: {
			"stop":  e.stopBroadcast,
			inText:  e.collect,
			inMedia: e.collect,
		},
		StateReviewBroadcastSchedule: {
			"confirm":    e.askBroadcastTime,
			"start_over": e.restartBroadcast,
		},
		StateAwaitBroadcastTime: {
			inText: e.takeBroadcastTime,
		},
	}
}

func (e *Engine) resolve(st State, ev Event, in Input) (step, string) {
	switch ev.Kind {
	case EventStart:
		return e.start, "/start"
	case EventCancel:
		return e.cancel, "/cancel"
	}
	if st == StateIdle || st == StateEnd {
		return e.start, "restart"
	}

	row := e.table[st]
	if in.Key != "" {
		if s, ok := row[in.Key]; ok {
			return s, in.Key
		}
	}
	var wildcard string
	switch ev.Kind {
	case EventText:
		wildcard = inText
	case EventContact:
		wildcard = inContact
	case EventMedia:
		wildcard = inMedia
	case EventCallback:
		wildcard = inCallback
	}
	if s, ok := row[wildcard]; ok {
		return s, wildcard
	}
	return nil, ""
}

func (e *Engine) adminOnly(next step) step {
	return func(ctx context.Context, t *turn) (State, error) {
		if !t.admin {
			return t.s.State, nil
		}
		return next(ctx, t)
	}
}

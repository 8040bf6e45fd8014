// Package dialog drives one finite-state conversation per recipient.
//
// Every inbound event is normalized to an input key and dispatched through a
// transition table keyed by the session's current state. Display labels come
// from the Catalog and never drive control flow directly.
package dialog

// State identifies a step of the conversation.
type State string

const (
	StateIdle                    State = "idle"
	StateMainMenu                State = "main_menu"
	StateCourseMenu              State = "course_menu"
	StateCourseDetail            State = "course_detail"
	StateProjectMenu             State = "project_menu"
	StateProjectDetail           State = "project_detail"
	StateWebinarMenu             State = "webinar_menu"
	StateAskName                 State = "ask_name"
	StateAskPhone                State = "ask_phone"
	StateAskCity                 State = "ask_city"
	StateAskEmail                State = "ask_email"
	StateConfirmRegistration     State = "confirm_registration"
	StateFinishRegistration      State = "finish_registration"
	StateAwardsMenu              State = "awards_menu"
	StateAffiliateMenu           State = "affiliate_menu"
	StateSetWebinarURL           State = "set_webinar_url"
	StateSetWebinarTime          State = "set_webinar_time"
	StateComposeBroadcast        State = "compose_broadcast"
	StateReviewBroadcastSchedule State = "review_broadcast_schedule"
	StateAwaitBroadcastTime      State = "await_broadcast_time"
	// StateEnd is terminal. Reaching it clears the session.
	StateEnd State = "end"
)

// Registration purposes carried through the registration sub-flow.
const (
	PurposeConsultation = "consultation"
	PurposeCourse       = "course"
	PurposeProject      = "project"
	PurposeWebinar      = "webinar"
)

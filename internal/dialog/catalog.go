package dialog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Entry is a course or project shown in a browse menu.
type Entry struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// Catalog holds every user-visible string. Buttons map input keys to labels;
// inbound reply-keyboard text is mapped back to the key before dispatch.
type Catalog struct {
	Texts    map[string]string `yaml:"texts"`
	Buttons  map[string]string `yaml:"buttons"`
	Courses  []Entry           `yaml:"courses"`
	Projects []Entry           `yaml:"projects"`
	// Awards are media references shown as an album in the awards menu.
	Awards []string `yaml:"awards"`

	labels map[string]string
}

// DefaultCatalog returns the built-in English texts.
func DefaultCatalog() *Catalog {
	c := &Catalog{
		Texts: map[string]string{
			"greetings":              "Hello! I am the assistant of the CBT practice. Choose what you are interested in.",
			"courses_intro":          "Our training programmes:",
			"projects_intro":         "Our projects:",
			"webinar_unplanned":      "No webinar is planned at the moment. Check back later!",
			"webinar_greetings":      "We run free webinars for everyone interested.",
			"webinar_info":           "The next webinar starts <b>%s</b>.",
			"awards_greetings":       "Our awards and certificates.",
			"awards_info":            "Thank you for your trust!",
			"affiliate_greetings":    "Affiliate programme.",
			"affiliate_info":         "Recommend us to a friend and get a discount on your next session.",
			"ask_name":               "What is your name?",
			"ask_phone":              "Please share your phone number using the button below.",
			"ask_city":               "Which city are you in?",
			"ask_email":              "What is your email?",
			"wrong_email":            "That does not look like an email address. Please try again.",
			"confirmation":           "Please check your details:\nName: %s\nPhone: %s\nCity: %s\nEmail: %s",
			"admin_registration":     "<b>New registration</b>\nType: %s\nName: %s\nPhone: %s\nCity: %s\nEmail: %s\nUser: %d",
			"registration_done":      "Thank you! We will contact you soon.",
			"webinar_subscribed":     "We will remind you about the webinar at %s.",
			"webinar_unavailable":    "Registration for this webinar is closed.",
			"finish_question":        "Anything else I can help with?",
			"goodbye":                "Goodbye! Send /start whenever you need me.",
			"set_webinar_current":    "Current webinar: %s\n%s\n\nSend a new join link, or \"-\" to remove the webinar.",
			"set_webinar_none":       "No webinar is set. Send the join link.",
			"set_webinar_time":       "Send the webinar time as DD.MM.YYYY HH:MM.",
			"wrong_date":             "Invalid date. Use DD.MM.YYYY HH:MM and a time in the future.",
			"webinar_set":            "Webinar scheduled for %s.",
			"webinar_removed":        "The webinar was removed.",
			"broadcast_start":        "Send the messages and photos to broadcast.",
			"broadcast_begin":        "Press Stop when you are done.",
			"broadcast_continue":     "Saved. Send more or press Stop.",
			"broadcast_nothing":      "Nothing to send.",
			"broadcast_confirmation": "This is what recipients will get. Continue?",
			"broadcast_ask_time":     "Send the delivery time as DD.MM.YYYY HH:MM.",
			"broadcast_restart":      "Cleared. Send the messages again.",
			"broadcast_scheduled":    "Broadcast scheduled for %s.",
			"failure":                "Something went wrong. Please try again.",
			"webinar_reminder":       "The webinar is about to start. Join here: %s",
			"status":                 "<b>Scheduler</b>\nArmed jobs: %d (broadcasts %d, reminders %d)\nNext fire: %s\nRecipients: %d\nWebinar: %s\n\n<b>Delivery</b>\nQueued: %d\nSent: %d\nFailed: %d (unreachable %d)",
			"status_none":            "none",
			"broadcasts_cleared":     "Removed %d scheduled broadcast(s).",
			"admin_only":             "This command is available to the operator only.",
		},
		Buttons: map[string]string{
			"courses":             "Training",
			"projects":            "Projects",
			"webinars":            "Webinars",
			"consultation":        "Book a consultation",
			"awards":              "Awards",
			"affiliate":           "Affiliate programme",
			"cancel":              "End conversation",
			"set_webinar":         "Set webinar",
			"broadcast":           "Broadcast",
			"back":                "Back",
			"register":            "Register",
			"cancel_registration": "Cancel registration",
			"share_phone":         "Share phone number",
			"yes":                 "Yes",
			"no":                  "No",
			"stop":                "Stop",
			"confirm":             "Set time",
			"start_over":          "Start over",
		},
		Courses: []Entry{
			{ID: "basic", Title: "Basic", Description: "Foundations of cognitive behavioural therapy."},
			{ID: "individual", Title: "Individual", Description: "One-to-one training with a mentor."},
			{ID: "group", Title: "Group", Description: "Training in a small group."},
			{ID: "professional", Title: "Professional", Description: "Programme for practising specialists."},
		},
		Projects: []Entry{
			{ID: "support_group", Title: "Support group", Description: "Weekly moderated support meetings."},
			{ID: "workshops", Title: "Workshops", Description: "Hands-on workshops on everyday skills."},
		},
	}
	c.index()
	return c
}

// LoadCatalog returns the default catalog overlaid with the YAML file at path.
// Keys missing from the file keep their defaults; lists present in the file
// replace the defaults.
func LoadCatalog(path string) (*Catalog, error) {
	c := DefaultCatalog()
	path = strings.TrimSpace(path)
	if path == "" {
		return c, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	var overlay Catalog
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	for k, v := range overlay.Texts {
		c.Texts[k] = v
	}
	for k, v := range overlay.Buttons {
		c.Buttons[k] = v
	}
	if len(overlay.Courses) > 0 {
		c.Courses = overlay.Courses
	}
	if len(overlay.Projects) > 0 {
		c.Projects = overlay.Projects
	}
	if len(overlay.Awards) > 0 {
		c.Awards = overlay.Awards
	}
	c.index()
	return c, nil
}

func (c *Catalog) index() {
	c.labels = make(map[string]string, len(c.Buttons))
	for key, label := range c.Buttons {
		c.labels[normalizeLabel(label)] = key
	}
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Text returns the text for key, or key itself when unknown.
func (c *Catalog) Text(key string) string {
	if v, ok := c.Texts[key]; ok {
		return v
	}
	return key
}

// Textf formats the text for key with args.
func (c *Catalog) Textf(key string, args ...any) string {
	return fmt.Sprintf(c.Text(key), args...)
}

// Button returns the label for key.
func (c *Catalog) Button(key string) string {
	if v, ok := c.Buttons[key]; ok {
		return v
	}
	return key
}

// KeyFor maps a reply-keyboard label back to its input key.
func (c *Catalog) KeyFor(label string) (string, bool) {
	key, ok := c.labels[normalizeLabel(label)]
	return key, ok
}

// Course looks up a course by id.
func (c *Catalog) Course(id string) (Entry, bool) {
	return findEntry(c.Courses, id)
}

// Project looks up a project by id.
func (c *Catalog) Project(id string) (Entry, bool) {
	return findEntry(c.Projects, id)
}

func findEntry(list []Entry, id string) (Entry, bool) {
	for _, e := range list {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

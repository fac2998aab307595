package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/obsidianstack/alertd/pkg/labels"
	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/metrics"
	"github.com/obsidianstack/alertd/server/internal/template"
)

const defaultSendTimeout = 10 * time.Second

// Kind distinguishes escalation notices from resolution notices.
type Kind string

const (
	KindEscalation Kind = "escalation"
	KindResolved   Kind = "resolved"
)

// ResolvedSeverity is the template key used for resolution notices.
const ResolvedSeverity = "resolved"

var (
	defaultTemplate = template.Template{
		Subject: "[{{alert.severity}}] {{alert.name}}",
		Body: "{{alert.description}}\n" +
			"source: {{alert.source}}\n" +
			"{{alert.metric}} = {{alert.current_value}} ({{alert.condition}} {{alert.threshold}})\n" +
			"labels: {{alert.labels}}\n" +
			"escalation level: {{alert.escalation_level}}\n" +
			"started: {{alert.starts_at}}",
	}
	defaultResolvedTemplate = template.Template{
		Subject: "[RESOLVED] {{alert.name}}",
		Body: "{{alert.name}} resolved at {{alert.resolved_at}}\n" +
			"source: {{alert.source}}\n" +
			"labels: {{alert.labels}}\n" +
			"started: {{alert.starts_at}}",
	}
)

// Delivery is one planned send.
type Delivery struct {
	Channel types.Channel
	Kind    Kind
	Content template.Rendered
}

type templateKey struct {
	channelType types.ChannelType
	severity    string
}

// Router owns the channel, template and transport registries.
//
// Router is safe for concurrent use.
type Router struct {
	mu          sync.RWMutex
	channels    map[string]types.Channel
	templates   map[templateKey]template.Template
	transports  map[types.ChannelType]Transport
	environment map[string]string

	sendTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Router.
type Option func(*Router)

// WithSendTimeout bounds each transport call.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.sendTimeout = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// NewRouter returns an empty Router.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		channels:    make(map[string]types.Channel),
		templates:   make(map[templateKey]template.Template),
		transports:  make(map[types.ChannelType]Transport),
		environment: make(map[string]string),
		sendTimeout: defaultSendTimeout,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterChannel adds or replaces a channel.
func (r *Router) RegisterChannel(ch types.Channel) {
	r.mu.Lock()
	r.channels[ch.ID] = ch
	r.mu.Unlock()
}

// RegisterTemplate sets the template for (channelType, severity). Use
// ResolvedSeverity for the resolution notice of a channel type.
func (r *Router) RegisterTemplate(channelType types.ChannelType, severity string, t template.Template) {
	r.mu.Lock()
	r.templates[templateKey{channelType, severity}] = t
	r.mu.Unlock()
}

// RegisterTransport sets the transport for a channel type.
func (r *Router) RegisterTransport(channelType types.ChannelType, t Transport) {
	r.mu.Lock()
	r.transports[channelType] = t
	r.mu.Unlock()
}

// TemplateSpec is one template entry for Configure.
type TemplateSpec struct {
	ChannelType types.ChannelType
	Severity    string
	Template    template.Template
}

// Configure atomically replaces channels, templates and the environment
// exposed to templates. Transports are left untouched.
func (r *Router) Configure(channels []types.Channel, templates []TemplateSpec, environment map[string]string) {
	chs := make(map[string]types.Channel, len(channels))
	for _, ch := range channels {
		chs[ch.ID] = ch
	}
	tpls := make(map[templateKey]template.Template, len(templates))
	for _, t := range templates {
		tpls[templateKey{t.ChannelType, t.Severity}] = t.Template
	}
	env := make(map[string]string, len(environment))
	for k, v := range environment {
		env[k] = v
	}

	r.mu.Lock()
	r.channels = chs
	r.templates = tpls
	r.environment = env
	r.mu.Unlock()
}

// Channel returns a registered channel.
func (r *Router) Channel(id string) (types.Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[id]
	return ch, ok
}

// Plan filters channelIDs for alert a at time now and renders the content
// for each channel that passes.
func (r *Router) Plan(a types.Alert, channelIDs []string, kind Kind, now time.Time) []Delivery {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Delivery
	for _, id := range channelIDs {
		ch, ok := r.channels[id]
		if !ok {
			r.logger.Warn("notify: unknown channel", "channel", id, "alert_id", a.ID)
			continue
		}
		if reason := r.reject(ch, a, now); reason != "" {
			r.logger.Debug("notify: channel skipped",
				"channel", ch.ID,
				"alert_id", a.ID,
				"reason", reason,
			)
			continue
		}
		out = append(out, Delivery{
			Channel: ch,
			Kind:    kind,
			Content: template.Render(r.templateFor(ch.Type, a.Severity, kind), r.contextFor(a, now)),
		})
	}
	return out
}

// reject returns a non-empty reason when ch must not receive a.
func (r *Router) reject(ch types.Channel, a types.Alert, now time.Time) string {
	if !ch.Enabled {
		return "disabled"
	}
	if !ch.AcceptsSeverity(a.Severity) {
		return "severity filtered"
	}
	if !labels.MatchAll(ch.LabelSelectors, a.Labels) {
		return "label selectors"
	}
	if tr := ch.TimeRestrictions; tr != nil {
		loc, err := tr.Location()
		if err != nil {
			r.logger.Warn("notify: bad channel timezone, using UTC", "channel", ch.ID, "err", err)
		}
		if !tr.Allows(now.In(loc)) {
			return "outside time restrictions"
		}
	}
	return ""
}

func (r *Router) templateFor(ct types.ChannelType, sev types.Severity, kind Kind) template.Template {
	if kind == KindResolved {
		if t, ok := r.templates[templateKey{ct, ResolvedSeverity}]; ok {
			return t
		}
		return defaultResolvedTemplate
	}
	if t, ok := r.templates[templateKey{ct, string(sev)}]; ok {
		return t
	}
	return defaultTemplate
}

func (r *Router) contextFor(a types.Alert, now time.Time) template.Context {
	return template.NewContext(a.TemplateData(), r.environment, now)
}

// Deliver sends every delivery and returns how many succeeded. A missing
// transport or a failed send is logged and skipped.
func (r *Router) Deliver(ctx context.Context, a types.Alert, deliveries []Delivery) int {
	sent := 0
	for _, d := range deliveries {
		if err := r.send(ctx, a, d); err != nil {
			r.metrics.Notification(string(d.Channel.Type), false)
			r.logger.Error("notify: delivery failed",
				"alert_id", a.ID,
				"channel", d.Channel.ID,
				"channel_type", d.Channel.Type,
				"kind", d.Kind,
				"err", err,
			)
			continue
		}
		sent++
		r.metrics.Notification(string(d.Channel.Type), true)
		r.logger.Info("notify: delivered",
			"alert_id", a.ID,
			"channel", d.Channel.ID,
			"channel_type", d.Channel.Type,
			"kind", d.Kind,
		)
	}
	return sent
}

func (r *Router) send(ctx context.Context, a types.Alert, d Delivery) (err error) {
	r.mu.RLock()
	t, ok := r.transports[d.Channel.Type]
	timeout := r.sendTimeout
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no transport for channel type %q", d.Channel.Type)
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transport panic: %v", p)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return t.Send(ctx, d.Channel, d.Content, a)
}

package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/envie2sortir/envie2sortir/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "envie2sortir"

var (
	// Registry holds the application collectors exposed on /metrics.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests handled.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"method", "path"})

	clicksTracked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analytics",
		Name:      "clicks_total",
		Help:      "Click events recorded, by element type.",
	}, []string{"element_type"})

	messagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "messaging",
		Name:      "messages_total",
		Help:      "Messages sent, by sender role.",
	}, []string{"sender_role"})

	newsletterSubscriptions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "newsletter",
		Name:      "subscriptions_total",
		Help:      "Newsletter subscription attempts, by result.",
	}, []string{"result"})

	dealEngagements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "deals",
		Name:      "engagements_total",
		Help:      "Deal votes, by kind.",
	}, []string{"kind"})

	onboardings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "onboarding",
		Name:      "registrations_total",
		Help:      "Professional registrations, by result.",
	}, []string{"result"})

	eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Domain events dropped because the publish buffer was full.",
	})

	jobRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "runs_total",
		Help:      "Maintenance job runs.",
	}, []string{"job", "success"})

	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "run_duration_seconds",
		Help:      "Duration of maintenance job runs.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	}, []string{"job"})

	integrationCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "integrations",
		Name:      "calls_total",
		Help:      "Calls to external APIs, by integration and outcome.",
	}, []string{"integration", "outcome"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		clicksTracked,
		messagesSent,
		newsletterSubscriptions,
		dealEngagements,
		onboardings,
		eventsDropped,
		jobRuns,
		jobDuration,
		integrationCalls,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &logging.StatusRecorder{ResponseWriter: w, Status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := CanonicalPath(r.URL.Path)
		if rec.Status == http.StatusNotFound || rec.Status == http.StatusMethodNotAllowed {
			path = Unmatched
		}
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.Status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// Unmatched labels requests outside the routed prefixes and 404/405 answers.
const Unmatched = "unmatched"

var routedRoots = map[string]bool{"api": true, "health": true, "healthz": true, "metrics": true, "newsletter": true}

// CanonicalPath replaces ids, slugs and tokens with placeholders so label
// cardinality stays bounded.
func CanonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if !routedRoots[parts[0]] {
		return Unmatched
	}
	for i, p := range parts {
		switch {
		case i > 0 && parts[i-1] == "siret":
			parts[i] = ":siret"
		case isNumeric(p):
			parts[i] = ":id"
		case i == 2 && parts[0] == "api" && parts[1] == "establishments":
			parts[i] = ":slug"
		}
	}
	return "/" + strings.Join(parts, "/")
}

func isNumeric(s string) bool {
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}

func ClickTracked(elementType string) { clicksTracked.WithLabelValues(elementType).Inc() }
func MessageSent(senderRole string)   { messagesSent.WithLabelValues(senderRole).Inc() }
func NewsletterResult(result string)  { newsletterSubscriptions.WithLabelValues(result).Inc() }
func DealEngaged(kind string)         { dealEngagements.WithLabelValues(kind).Inc() }
func OnboardingResult(result string)  { onboardings.WithLabelValues(result).Inc() }
func EventDropped()                   { eventsDropped.Inc() }

// IntegrationCall records an external API call; err == nil is "ok".
func IntegrationCall(integration string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	integrationCalls.WithLabelValues(integration, outcome).Inc()
}

// RecordJob records a maintenance job run.
func RecordJob(job string, duration time.Duration, success bool) {
	jobRuns.WithLabelValues(job, strconv.FormatBool(success)).Inc()
	jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TranscodeSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wildfire_transcode_steps_total",
		Help: "Codec steps by step name and outcome.",
	}, []string{"step", "outcome"})

	PublishStages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wildfire_publish_stages_total",
		Help: "Publish state transitions by stage and outcome.",
	}, []string{"stage", "outcome"})

	StreamingRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wildfire_streaming_upload_retries_total",
		Help: "Resumable upload attempts that were retried.",
	})

	ViewsRegistered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wildfire_views_registered_total",
		Help: "Registered views split by first-time and returning viewers.",
	}, []string{"kind"})

	Likes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wildfire_likes_total",
		Help: "Like attempts by result.",
	}, []string{"result"})

	PlaybackResolutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wildfire_playback_resolutions_total",
		Help: "Playback URL resolutions by source (streaming, cache, fallback).",
	}, []string{"source"})
)

var once sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(TranscodeSteps, PublishStages, StreamingRetries, ViewsRegistered, Likes, PlaybackResolutions)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}

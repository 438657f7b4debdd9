package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	NumActiveClients     = "NumActiveClients"
	NumOnlineUsers       = "NumOnlineUsers"
	NumSubscriptions     = "NumSubscriptions"
	NumMessagesPublished = "NumMessagesPublished"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	Set(name string, value int)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	// quit is closed by Stop; updates sent afterwards are dropped.
	quit     chan struct{}
	stopOnce sync.Once
}

type metricsUpdateReq struct {
	name  string
	value int
	set   bool
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a new stats updater instance and registers
// its handler on mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan *metricsUpdateReq, 512),
		quit:       make(chan struct{}),
		vars:       new(expvar.Map).Init(),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	for {
		select {
		case req := <-su.updateChan:
			metric, ok := su.vars.Get(req.name).(*expvar.Int)
			if !ok {
				panic("metric not found: " + req.name)
			}

			if req.set {
				metric.Set(int64(req.value))
				continue
			}
			metric.Add(int64(req.value))
		case <-su.quit:
			return
		}
	}
}

func (su *StatsUpdater) update(req *metricsUpdateReq) {
	select {
	case su.updateChan <- req:
	case <-su.quit:
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.update(&metricsUpdateReq{name: name, value: 1})
}

func (su *StatsUpdater) Decr(name string) {
	su.update(&metricsUpdateReq{name: name, value: -1})
}

func (su *StatsUpdater) Set(name string, value int) {
	su.update(&metricsUpdateReq{name: name, value: value, set: true})
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop ends the update loop. It is safe to call more than once and
// concurrently with updates.
func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() { close(su.quit) })
}

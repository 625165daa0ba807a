package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/berfenger/hems2mqtt/internal/core/domain"
	"github.com/berfenger/hems2mqtt/internal/util"
	"github.com/berfenger/hems2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubMaster struct {
	healthy bool
	plan    *domain.SetpointResult
	surplus *domain.SurplusForecast
	replans atomic.Int32
}

func (m *stubMaster) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{Id: domain.ACTOR_ID_MASTER, Healthy: m.healthy})
	case domain.GetPlanRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.GetPlanResponse{Result: m.plan, Applied: -350})
	case domain.GetSurplusRequest:
		actorutil.ForRequest(msg).Respond(ctx, domain.GetSurplusResponse{Forecast: m.surplus})
	case domain.ReplanRequest:
		m.replans.Add(1)
	}
}

func newTestServer(t *testing.T, master *stubMaster) *httptest.Server {
	as := actorutil.NewActorSystemWithZapLogger(zap.NewNop())
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor { return master }))
	srv := httptest.NewServer(NewServer(util.LoadTestConfig(), as.Root, pid).Handler)
	t.Cleanup(func() {
		srv.Close()
		as.Root.Stop(pid)
		as.Shutdown()
	})
	return srv
}

func TestHealthCheckHandler(t *testing.T) {
	require := require.New(t)

	srv := newTestServer(t, &stubMaster{healthy: true})
	res, err := http.Get(srv.URL + "/healthcheck")
	require.NoError(err)
	defer res.Body.Close()
	require.Equal(http.StatusOK, res.StatusCode)

	srv = newTestServer(t, &stubMaster{healthy: false})
	res, err = http.Get(srv.URL + "/healthcheck")
	require.NoError(err)
	defer res.Body.Close()
	require.Equal(http.StatusServiceUnavailable, res.StatusCode)
}

func TestPlanHandler(t *testing.T) {
	require := require.New(t)
	srv := newTestServer(t, &stubMaster{healthy: true})

	res, err := http.Get(srv.URL + "/api/plan")
	require.NoError(err)
	res.Body.Close()
	require.Equal(http.StatusNotFound, res.StatusCode, "no plan yet")

	srv = newTestServer(t, &stubMaster{healthy: true, plan: &domain.SetpointResult{Setpoint: -400, Spread: 0.1}})
	res, err = http.Get(srv.URL + "/api/plan")
	require.NoError(err)
	defer res.Body.Close()
	require.Equal(http.StatusOK, res.StatusCode)

	var body map[string]any
	require.NoError(json.NewDecoder(res.Body).Decode(&body))
	require.Equal(-350.0, body["applied_setpoint"])
	result := body["result"].(map[string]any)
	require.Equal(-400.0, result["setpoint"])
	require.Equal(0.1, result["spread"])
}

func TestSurplusHandler(t *testing.T) {
	require := require.New(t)
	srv := newTestServer(t, &stubMaster{healthy: true})

	res, err := http.Get(srv.URL + "/api/surplus")
	require.NoError(err)
	res.Body.Close()
	require.Equal(http.StatusNotFound, res.StatusCode)

	srv = newTestServer(t, &stubMaster{healthy: true, surplus: &domain.SurplusForecast{
		Surplus:        3.5,
		SurplusAfterEV: 1.25,
		ComputedAt:     time.Now(),
	}})
	res, err = http.Get(srv.URL + "/api/surplus")
	require.NoError(err)
	defer res.Body.Close()
	require.Equal(http.StatusOK, res.StatusCode)

	var body domain.SurplusForecast
	require.NoError(json.NewDecoder(res.Body).Decode(&body))
	require.Equal(3.5, body.Surplus)
	require.Equal(1.25, body.SurplusAfterEV)
	require.Nil(body.WithEV)
}

func TestReplanHandler(t *testing.T) {
	require := require.New(t)
	master := &stubMaster{healthy: true}
	srv := newTestServer(t, master)

	res, err := http.Post(srv.URL+"/api/replan", "application/json", nil)
	require.NoError(err)
	res.Body.Close()
	require.Equal(http.StatusAccepted, res.StatusCode)
	require.Eventually(func() bool { return master.replans.Load() == 1 }, time.Second, 10*time.Millisecond)
}

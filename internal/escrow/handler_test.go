package escrow_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/escrow-service/internal/escrow"
)

type fakeHistory struct {
	events []escrow.Event
	err    error
}

func (h *fakeHistory) ListByJob(_ context.Context, jobID uint64) ([]escrow.Event, error) {
	if h.err != nil {
		return nil, h.err
	}
	var out []escrow.Event
	for _, ev := range h.events {
		if ev.JobID == jobID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func serve(t *testing.T, h *escrow.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHandler_GetJob(t *testing.T) {
	f := newFixture(t, escrow.Vetted)
	id := f.post(t, week)
	h := escrow.NewHandler(f.engine, nil)

	rec := serve(t, h, http.MethodGet, "/jobs/1")
	require.Equal(t, http.StatusOK, rec.Code)
	var job escrow.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&job))
	assert.Equal(t, id, job.ID)
	assert.Equal(t, alice, job.Client)
	assert.Equal(t, escrow.StateActive, job.State)

	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/jobs/9").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/jobs/abc").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, h, http.MethodPost, "/jobs/1").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/jobs/1/unknown").Code)
}

func TestHandler_ListJobs(t *testing.T) {
	f := newFixture(t, escrow.Open)
	f.post(t, week)
	id := f.post(t, week)
	require.NoError(t, f.engine.CancelJob(f.ctx, alice, id))
	h := escrow.NewHandler(f.engine, nil)

	rec := serve(t, h, http.MethodGet, "/jobs?state=CANCELLED&start=1&end=3")
	require.Equal(t, http.StatusOK, rec.Code)
	var jobs []escrow.Job
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&jobs))
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)

	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/jobs?state=ACTIVE&start=3&end=1").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/jobs?state=ACTIVE&start=1&end=10").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/jobs?state=OPEN&start=1&end=2").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, http.MethodGet, "/jobs?state=ACTIVE").Code)
}

func TestHandler_ApplicantsAndCertificate(t *testing.T) {
	f := newFixture(t, escrow.Vetted)
	f.vet(t, bob)
	id := f.post(t, week)
	require.NoError(t, f.engine.SubmitWork(f.ctx, bob, id))
	h := escrow.NewHandler(f.engine, nil)

	rec := serve(t, h, http.MethodGet, "/jobs/1/applicants")
	require.Equal(t, http.StatusOK, rec.Code)
	var applicants []escrow.Identity
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&applicants))
	assert.Equal(t, []escrow.Identity{bob}, applicants)

	rec = serve(t, h, http.MethodGet, "/jobs/1/certificate")
	require.Equal(t, http.StatusOK, rec.Code)
	var cert struct {
		JobID  uint64          `json:"jobId"`
		Owner  escrow.Identity `json:"owner"`
		Locked bool            `json:"locked"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cert))
	assert.Equal(t, alice, cert.Owner)
	assert.True(t, cert.Locked)

	require.NoError(t, f.engine.CancelJob(f.ctx, alice, id))
	assert.Equal(t, http.StatusConflict, serve(t, h, http.MethodGet, "/jobs/1/certificate").Code)
}

func TestHandler_History(t *testing.T) {
	f := newFixture(t, escrow.Open)
	f.post(t, week)

	assert.Equal(t, http.StatusNotFound,
		serve(t, escrow.NewHandler(f.engine, nil), http.MethodGet, "/jobs/1/history").Code)

	hist := &fakeHistory{events: []escrow.Event{
		{Type: escrow.EventJobPosted, JobID: 1, Actor: alice},
		{Type: escrow.EventJobPosted, JobID: 2, Actor: alice},
	}}
	h := escrow.NewHandler(f.engine, hist)

	rec := serve(t, h, http.MethodGet, "/jobs/1/history")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []escrow.Event
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&events))
	require.Len(t, events, 1)
	assert.Equal(t, escrow.EventJobPosted, events[0].Type)

	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/jobs/2/history").Code)

	hist.err = errBoom
	assert.Equal(t, http.StatusInternalServerError, serve(t, h, http.MethodGet, "/jobs/1/history").Code)
}

func TestHandler_Freelancer(t *testing.T) {
	f := newFixture(t, escrow.Vetted)
	require.NoError(t, f.engine.RegisterFreelancer(f.ctx, bob))
	h := escrow.NewHandler(f.engine, nil)

	rec := serve(t, h, http.MethodGet, "/freelancers/bob")
	require.Equal(t, http.StatusOK, rec.Code)
	var info escrow.FreelancerInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.True(t, info.IsRegistered)
	assert.False(t, info.IsApproved)

	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, "/freelancers/").Code)
}

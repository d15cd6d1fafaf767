package monitor

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aldas/go-mlcb"
	"github.com/stretchr/testify/assert"
)

func TestMonitor_getStatus(t *testing.T) {
	m := New()
	router := m.Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	m.Publish(mlcb.Status{NodeNumber: 300, CANID: 4, Mode: mlcb.ModeFLiM, Counters: mlcb.Counters{Received: 7}}, nil)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(300), body["nn"])
	assert.Equal(t, float64(4), body["canid"])
	assert.Equal(t, "FLiM", body["mode"])
	assert.Equal(t, float64(7), body["counters"].(map[string]interface{})["received"])
}

func TestMonitor_getEvents(t *testing.T) {
	m := New()
	m.Publish(mlcb.Status{}, []mlcb.EventEntry{
		{Index: 0, NodeNumber: 256, EventNumber: 5, Variables: []int{1, 0}},
	})

	rec := httptest.NewRecorder()
	m.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"index":0,"nn":256,"en":5,"evs":[1,0]}]`, rec.Body.String())
}

package api_test

import (
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/nholik/gameserver-sentinel/internal/api"
	"github.com/nholik/gameserver-sentinel/internal/watchdog"
	"github.com/rs/zerolog"
)

var _ = Describe("Router", func() {
	var router *http.ServeMux

	BeforeEach(func() {
		handlers := api.NewHandlers(zerolog.Nop(), &mockState{}, &mockStatus{}, &mockTicker{outcome: watchdog.Unchanged})
		router = api.NewRouter(handlers)
	})

	DescribeTable("routes requests to handlers",
		func(method, path string, code int) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
			Expect(rr.Code).To(Equal(code))
		},
		Entry("POST /on", http.MethodPost, "/on", http.StatusNoContent),
		Entry("POST /off", http.MethodPost, "/off", http.StatusNoContent),
		Entry("GET /status", http.MethodGet, "/status", http.StatusOK),
		Entry("POST /tick", http.MethodPost, "/tick", http.StatusOK),
		Entry("DELETE /on", http.MethodDelete, "/on", http.StatusMethodNotAllowed),
		Entry("unknown path", http.MethodGet, "/restart", http.StatusNotFound),
	)
})

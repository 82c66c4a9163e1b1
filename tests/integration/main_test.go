// tests/integration/main_test.go
package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/proall22/library-management-system/internal/circulation"
	"github.com/proall22/library-management-system/internal/clock"
	"github.com/proall22/library-management-system/internal/directory"
	"github.com/proall22/library-management-system/internal/middleware"
)

type TestSuite struct {
	server  *httptest.Server
	members *directory.Memory
	clk     *clock.FixedClock
}

// setupTestSuite assembles the full circulation stack, in process, behind the
// same router and middleware the service binary uses.
func setupTestSuite(t *testing.T) *TestSuite {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewFixedClock(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	members := directory.NewMemory()

	svc := circulation.NewService(clk, circulation.DefaultPolicy(), members, nil, logger.Sugar())
	handler := circulation.NewHandler(svc, logger.Sugar())
	router := handler.SetupRouter(
		middleware.Logger(logger),
		middleware.RateLimit(1000, 1000),
	)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &TestSuite{server: server, members: members, clk: clk}
}

func (ts *TestSuite) post(t *testing.T, path string, payload interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
	}
	resp, err := http.Post(ts.server.URL+path, "application/json", &buf)
	require.NoError(t, err)
	return resp
}

func (ts *TestSuite) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

type bookPayload struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Available bool   `json:"is_available"`
}

type loanPayload struct {
	ID         string  `json:"id"`
	BookID     string  `json:"book_id"`
	MemberID   string  `json:"member_id"`
	LoanDate   string  `json:"loan_date"`
	DueDate    string  `json:"due_date"`
	Returned   bool    `json:"returned"`
	FineAmount float64 `json:"fine_amount"`
}

type reservationPayload struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position"`
}

func TestCirculationFlow(t *testing.T) {
	ts := setupTestSuite(t)

	// Register a book.
	book := bookPayload{}
	resp := ts.post(t, "/books", map[string]string{
		"title":  "The Left Hand of Darkness",
		"author": "Ursula K. Le Guin",
		"isbn":   "9780441478125",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &book)
	assert.True(t, book.Available)

	alice := ts.members.Add(circulation.Member{Name: "Alice", Status: circulation.MemberActive})
	bob := ts.members.Add(circulation.Member{Name: "Bob", Status: circulation.MemberActive})

	// Alice borrows the book.
	loan := loanPayload{}
	resp = ts.post(t, "/loans", map[string]string{
		"book_id": book.ID, "member_id": alice.ID.String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &loan)
	assert.Equal(t, "2024-06-01", loan.LoanDate)
	assert.Equal(t, "2024-06-15", loan.DueDate)

	// Bob cannot borrow it and reserves instead.
	resp = ts.post(t, "/loans", map[string]string{
		"book_id": book.ID, "member_id": bob.ID.String(),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	res := reservationPayload{}
	resp = ts.post(t, "/reservations", map[string]string{
		"book_id": book.ID, "member_id": bob.ID.String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &res)
	assert.Equal(t, "Pending", res.Status)
	assert.Equal(t, 1, res.QueuePosition)

	// Alice returns three days late and owes a fine.
	ts.clk.Set(time.Date(2024, 6, 18, 9, 0, 0, 0, time.UTC))
	returned := loanPayload{}
	resp = ts.post(t, fmt.Sprintf("/loans/%s/return", loan.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &returned)
	assert.True(t, returned.Returned)
	assert.Equal(t, 1.50, returned.FineAmount)

	// The return promoted Bob's reservation.
	var bobViews []reservationPayload
	resp = ts.get(t, fmt.Sprintf("/members/%s/reservations", bob.ID))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &bobViews)
	require.Len(t, bobViews, 1)
	assert.Equal(t, "Ready", bobViews[0].Status)

	// Bob converts the reservation into a loan.
	converted := loanPayload{}
	resp = ts.post(t, fmt.Sprintf("/reservations/%s/convert", res.ID), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &converted)
	assert.Equal(t, bob.ID.String(), converted.MemberID)
	assert.Equal(t, "2024-07-02", converted.DueDate)

	// The copy is out again.
	got := bookPayload{}
	resp = ts.get(t, "/books/"+book.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &got)
	assert.False(t, got.Available)

	// Library-wide counts reflect the state.
	stats := circulation.Statistics{}
	resp = ts.get(t, "/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &stats)
	assert.Equal(t, 1, stats.TotalBooks)
	assert.Equal(t, 0, stats.AvailableBooks)
	assert.Equal(t, 1, stats.ActiveLoans)
}

func TestReservationExpiryFlow(t *testing.T) {
	ts := setupTestSuite(t)

	book := bookPayload{}
	resp := ts.post(t, "/books", map[string]string{"title": "Dune", "author": "Frank Herbert"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &book)

	borrower := ts.members.Add(circulation.Member{Status: circulation.MemberActive})
	first := ts.members.Add(circulation.Member{Status: circulation.MemberActive})
	second := ts.members.Add(circulation.Member{Status: circulation.MemberActive})

	loan := loanPayload{}
	resp = ts.post(t, "/loans", map[string]string{
		"book_id": book.ID, "member_id": borrower.ID.String(),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decode(t, resp, &loan)

	for _, m := range []string{first.ID.String(), second.ID.String()} {
		resp = ts.post(t, "/reservations", map[string]string{
			"book_id": book.ID, "member_id": m,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	resp = ts.post(t, fmt.Sprintf("/loans/%s/return", loan.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// The first member never picks the book up; the sweep hands it to the
	// second member.
	ts.clk.AdvanceDays(4)
	var swept map[string]int
	resp = ts.post(t, "/maintenance/expire", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decode(t, resp, &swept)
	assert.Equal(t, 1, swept["expired_reservations"])

	var firstViews, secondViews []reservationPayload
	resp = ts.get(t, fmt.Sprintf("/members/%s/reservations", first.ID))
	decode(t, resp, &firstViews)
	require.Len(t, firstViews, 1)
	assert.Equal(t, "Expired", firstViews[0].Status)

	resp = ts.get(t, fmt.Sprintf("/members/%s/reservations", second.ID))
	decode(t, resp, &secondViews)
	require.Len(t, secondViews, 1)
	assert.Equal(t, "Ready", secondViews[0].Status)
}

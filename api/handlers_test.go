package api

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fundrail/custodian/core"
)

type stubEngine struct {
	donateErr error
	closeErr  error
	voteErr   error
	rescueErr error

	lastDonor  common.Address
	lastAmount *big.Int

	status core.Status
	donors []core.DonorInfo
	events []core.Event
}

func (s *stubEngine) Donate(ctx context.Context, donor common.Address, amount *big.Int) error {
	s.lastDonor = donor
	s.lastAmount = amount
	return s.donateErr
}

func (s *stubEngine) Close(ctx context.Context, actor common.Address) error { return s.closeErr }
func (s *stubEngine) Vote(ctx context.Context, donor common.Address) error  { return s.voteErr }
func (s *stubEngine) RescueForeignAsset(ctx context.Context, actor, token common.Address) error {
	return s.rescueErr
}
func (s *stubEngine) Status() core.Status      { return s.status }
func (s *stubEngine) Donors() []core.DonorInfo { return s.donors }
func (s *stubEngine) Events() []core.Event     { return s.events }

func newTestServer(engine *stubEngine) *httptest.Server {
	r := mux.NewRouter()
	RegisterRoutes(r, NewHandler(engine, log.New()))
	return httptest.NewServer(r)
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestDonateEndpoint(t *testing.T) {
	engine := &stubEngine{status: core.Status{TotalRaised: new(big.Int)}}
	srv := newTestServer(engine)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/donate", `{"donor":"0x1100000000000000000000000000000000000001","amount":"50000"}`)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, common.HexToAddress("0x1100000000000000000000000000000000000001"), engine.lastDonor)
	assert.Equal(t, "50000", engine.lastAmount.String())
}

func TestDonateEndpointRejectsBadPayloads(t *testing.T) {
	engine := &stubEngine{}
	srv := newTestServer(engine)
	defer srv.Close()

	for name, body := range map[string]string{
		"not json":    "{",
		"bad address": `{"donor":"zzz","amount":"1"}`,
		"bad amount":  `{"donor":"0x1100000000000000000000000000000000000001","amount":"ten"}`,
	} {
		t.Run(name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/donate", body)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestEngineErrorsMapToStatusCodes(t *testing.T) {
	for name, tc := range map[string]struct {
		err  error
		want int
	}{
		"invalid state":  {core.ErrInvalidState, http.StatusConflict},
		"already voted":  {core.ErrAlreadyVoted, http.StatusConflict},
		"not a donor":    {core.ErrNotADonor, http.StatusConflict},
		"transfer":       {core.ErrTransferFailed, http.StatusBadGateway},
		"invalid amount": {core.ErrInvalidAmount, http.StatusBadRequest},
	} {
		t.Run(name, func(t *testing.T) {
			engine := &stubEngine{voteErr: tc.err, status: core.Status{TotalRaised: new(big.Int)}}
			srv := newTestServer(engine)
			defer srv.Close()

			resp := postJSON(t, srv.URL+"/vote", `{"caller":"0x1100000000000000000000000000000000000001"}`)
			defer resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	engine := &stubEngine{
		status: core.Status{
			State:             core.Active,
			Strategy:          core.Streaming,
			TotalRaised:       big.NewInt(58000),
			TotalVotingWeight: 3000,
			Allocations: []core.Allocation{
				{ID: "water-project", Recipient: common.HexToAddress("0x2200000000000000000000000000000000000001"), ShareBps: 5000, StreamID: 7},
			},
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "active", body["state"])
	assert.Equal(t, "streaming", body["strategy"])
	assert.Equal(t, "58000", body["total_raised"])

	allocations := body["allocations"].([]interface{})
	require.Len(t, allocations, 1)
	alloc := allocations[0].(map[string]interface{})
	assert.Equal(t, "water-project", alloc["id"])
	assert.Equal(t, float64(7), alloc["stream_id"])
}

func TestDonorsEndpoint(t *testing.T) {
	engine := &stubEngine{
		donors: []core.DonorInfo{
			{Address: common.HexToAddress("0x1100000000000000000000000000000000000001"), Amount: big.NewInt(50000), Voted: true},
			{Address: common.HexToAddress("0x1100000000000000000000000000000000000002"), Amount: big.NewInt(5000)},
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/donors")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string][]map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body["donors"], 2)
	assert.Equal(t, "50000", body["donors"][0]["amount"])
	assert.Equal(t, true, body["donors"][0]["voted"])
}

func TestEventsEndpoint(t *testing.T) {
	engine := &stubEngine{
		events: []core.Event{
			{Type: core.DonationReceived, Actor: common.HexToAddress("0x1100000000000000000000000000000000000001"), Amount: big.NewInt(100)},
			{Type: core.StreamStarted, Actor: common.HexToAddress("0x2200000000000000000000000000000000000001"), Amount: big.NewInt(4950), StreamID: 3},
		},
	}
	srv := newTestServer(engine)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string][]map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body["events"], 2)
	assert.Equal(t, "DonationReceived", body["events"][0]["type"])
	assert.Equal(t, "StreamStarted", body["events"][1]["type"])
	assert.Equal(t, float64(3), body["events"][1]["stream_id"])
}

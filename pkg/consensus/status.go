package consensus

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/helinwang/log15"
)

// StatusServer exposes a read-only HTTP view of one node's chain
// state. Every response is a snapshot taken under the chain lock.
type StatusServer struct {
	chain *ChainState
}

func NewStatusServer(chain *ChainState) *StatusServer {
	return &StatusServer{chain: chain}
}

// Handler returns the routed HTTP handler.
func (s *StatusServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/status", s.status).Methods("GET")
	r.HandleFunc("/chain", s.chainBlocks).Methods("GET")
	r.HandleFunc("/schedule/{epoch}", s.schedule).Methods("GET")
	r.HandleFunc("/mixes", s.mixes).Methods("GET")
	return r
}

// Start serves the status API on the given address, blocking.
func (s *StatusServer) Start(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Error("write status response", "err", err)
	}
}

type checkpointJSON struct {
	Epoch int64  `json:"epoch"`
	Root  string `json:"root"`
}

func checkpointToJSON(c Checkpoint) checkpointJSON {
	return checkpointJSON{Epoch: c.Epoch, Root: c.Root.String()}
}

func (s *StatusServer) status(w http.ResponseWriter, r *http.Request) {
	head := s.chain.Head()
	justified, prevJustified, finalized := s.chain.Checkpoints()

	writeJSON(w, map[string]interface{}{
		"head":               head.Hash().String(),
		"height":             head.Height,
		"slot":               head.Slot,
		"justified":          checkpointToJSON(justified),
		"previous_justified": checkpointToJSON(prevJustified),
		"finalized":          checkpointToJSON(finalized),
		"ledger_root":        s.chain.LedgerRoot().String(),
		"validators":         s.chain.Validators().Len(),
		"total_stake":        s.chain.Validators().TotalStake(),
	})
}

func (s *StatusServer) chainBlocks(w http.ResponseWriter, r *http.Request) {
	blocks := s.chain.CanonicalChain()
	hashes := make([]string, len(blocks))
	for i, b := range blocks {
		hashes[i] = b.Hash().String()
	}
	writeJSON(w, hashes)
}

func (s *StatusServer) schedule(w http.ResponseWriter, r *http.Request) {
	epoch, err := strconv.ParseInt(mux.Vars(r)["epoch"], 10, 64)
	if err != nil || epoch < 0 {
		http.Error(w, "invalid epoch", http.StatusBadRequest)
		return
	}

	sched := s.chain.Schedule(epoch)
	addrs := make([]string, len(sched))
	for i, a := range sched {
		addrs[i] = a.String()
	}
	writeJSON(w, addrs)
}

func (s *StatusServer) mixes(w http.ResponseWriter, r *http.Request) {
	mixes := s.chain.Mixes()
	out := make(map[string]string, len(mixes))
	for epoch, mix := range mixes {
		out[strconv.FormatInt(epoch, 10)] = mix.String()
	}
	writeJSON(w, out)
}

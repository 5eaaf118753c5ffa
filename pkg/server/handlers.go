package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/merkle"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/snapshot"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/types"
	"github.com/Layr-Labs/payout-snapshots-go/pkg/util"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

// writeServiceError maps service errors onto HTTP status codes
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, snapshot.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, snapshot.ErrSnapshotNotFound), errors.Is(err, snapshot.ErrAddressNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, snapshot.ErrSnapshotNotReady):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Sugar().Errorw("Internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to parse request: %v", err)
	}
	return nil
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, r *http.Request) {
	snapshots, err := s.service.ListSnapshots()
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	resp := types.SnapshotsResponse{Snapshots: make([]types.SnapshotResponse, 0, len(snapshots))}
	for _, snap := range snapshots {
		resp.Snapshots = append(resp.Snapshots, *snapshot.ToResponse(snap))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSnapshotRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	params, err := snapshot.ParamsFromRequest(&req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	id, err := s.service.SubmitSnapshot(r.Context(), params)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, types.CreateSnapshotResponse{ID: id})
}

func (s *Server) handleCreateSnapshotFromBalances(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSnapshotFromBalancesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	params, balances, err := snapshot.ParamsFromBalancesRequest(&req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	snap, err := s.service.CreateSnapshotFromBalances(r.Context(), params, balances)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, snapshot.ToResponse(snap))
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.service.GetSnapshot(r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot.ToResponse(snap))
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSnapshot(r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTree(w http.ResponseWriter, r *http.Request) {
	tree, err := s.service.GetTree(r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tree.View())
}

func (s *Server) handleGetProof(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	address, err := util.ParseAddress(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	proof, err := s.service.GetProof(id, address)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, merkle.ProofToResponse(id, proof))
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req types.VerifyRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	leaf, err := merkle.AccountBalanceFromJSON(&types.AccountBalanceJSON{Address: req.Address, Balance: req.Balance})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	path, err := merkle.PathFromJSON(req.Path)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	root, err := merkle.HashFromHex(req.RootHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hashFn, err := merkle.HashFunctionFromName(req.HashFunction)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, types.VerifyResponse{Valid: merkle.VerifyPath(leaf, path, root, hashFn)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.service.HealthCheck(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

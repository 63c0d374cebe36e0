package httpapi

import (
	"fmt"
	"net/http"
	"strings"

	"astroclub.org/internal/club"
)

type meResponse struct {
	Profile            club.Profile   `json:"profile"`
	Standing           club.Standing  `json:"standing"`
	Sections           []club.Section `json:"sections"`
	GodPositionsFilled bool           `json:"god_positions_filled"`
}

type bioRequest struct {
	Bio string `json:"bio"`
}

type assignRankRequest struct {
	Rank    string `json:"rank"`
	SubRank string `json:"sub_rank"`
}

type applicationRequest struct {
	Type       string `json:"type"`
	Department string `json:"department"`
	RoleTitle  string `json:"role_title"`
}

type approveRequest struct {
	SubRank string `json:"sub_rank"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(w, r)
	if !ok {
		return
	}
	prof, _, err := a.club.Bootstrap(r.Context(), ident)
	if err != nil {
		handleError(w, r, err)
		return
	}
	st, err := a.club.Standing(r.Context(), ident)
	if err != nil {
		handleError(w, r, err)
		return
	}
	filled, err := a.club.GodPositionsFilled(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{
		Profile:            prof,
		Standing:           st,
		Sections:           club.VisibleSections(st),
		GodPositionsFilled: filled,
	})
}

func (a *API) handleUpdateBio(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req bioRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, kindInvalid, err.Error())
		return
	}
	prof, err := a.club.UpdateBio(r.Context(), ident, req.Bio)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (a *API) handleRanks(w http.ResponseWriter, r *http.Request) {
	filled, err := a.club.GodPositionsFilled(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ranks":                club.RankLibrary(),
		"god_positions_filled": filled,
	})
}

func (a *API) handleDirectory(w http.ResponseWriter, r *http.Request) {
	entries, err := a.club.Directory(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": entries})
}

func (a *API) handleAssignRank(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req assignRankRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, kindInvalid, err.Error())
		return
	}
	rank := club.Rank(strings.ToLower(strings.TrimSpace(req.Rank)))
	if !rank.Valid() {
		handleError(w, r, fmt.Errorf("%w: unknown rank %q", club.ErrInvalidInput, req.Rank))
		return
	}
	sub, ok := club.ParseSubRank(req.SubRank)
	if !ok {
		handleError(w, r, fmt.Errorf("%w: unknown sub-rank %q", club.ErrInvalidInput, req.SubRank))
		return
	}
	prof, err := a.club.AssignRank(r.Context(), ident, r.PathValue("id"), rank, sub)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (a *API) handleExile(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(w, r)
	if !ok {
		return
	}
	if err := a.club.Exile(r.Context(), ident, r.PathValue("id"), confirmed(r)); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListRequests(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(w, r)
	if !ok {
		return
	}
	status := club.RequestStatus(strings.TrimSpace(r.URL.Query().Get("status")))
	switch status {
	case "", club.StatusPending, club.StatusApproved, club.StatusRejected:
	default:
		handleError(w, r, fmt.Errorf("%w: unknown status %q", club.ErrInvalidInput, status))
		return
	}
	list, err := a.club.ListRequests(r.Context(), ident, status)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func (a *API) handleSubmitApplication(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req applicationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, kindInvalid, err.Error())
		return
	}
	typ, ok := club.ParseRequestType(req.Type)
	if !ok {
		handleError(w, r, fmt.Errorf("%w: unknown request type %q", club.ErrInvalidInput, req.Type))
		return
	}
	created, err := a.club.SubmitApplication(r.Context(), ident, typ, req.Department, req.RoleTitle)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleRegisterAdmin(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(w, r)
	if !ok {
		return
	}
	created, err := a.club.RegisterAdmin(r.Context(), ident)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleApprove(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, kindInvalid, err.Error())
		return
	}
	sub, ok := club.ParseSubRank(req.SubRank)
	if !ok {
		handleError(w, r, fmt.Errorf("%w: unknown sub-rank %q", club.ErrInvalidInput, req.SubRank))
		return
	}
	decided, err := a.club.Approve(r.Context(), ident, r.PathValue("id"), sub)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

func (a *API) handleReject(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(w, r)
	if !ok {
		return
	}
	decided, err := a.club.Reject(r.Context(), ident, r.PathValue("id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decided)
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(w, r)
	if !ok {
		return
	}
	list, err := a.club.Notifications(r.Context(), ident)
	if err != nil {
		handleError(w, r, err)
		return
	}
	unread := 0
	for _, n := range list {
		if !n.IsRead {
			unread++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list, "unread": unread})
}

func (a *API) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(w, r)
	if !ok {
		return
	}
	if err := a.club.MarkRead(r.Context(), ident, r.PathValue("id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

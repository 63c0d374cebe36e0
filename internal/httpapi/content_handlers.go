package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"astroclub.org/internal/events"
	"astroclub.org/internal/gallery"
)

const uploadField = "file"

func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	list, err := a.events.List(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	var active *events.Event
	for i := range list {
		if list[i].Status == events.StatusActive {
			active = &list[i]
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": list, "active": active})
}

func (a *API) handleHostEvent(w http.ResponseWriter, r *http.Request) {
	_, st, ok := a.actor(w, r)
	if !ok {
		return
	}
	var d events.Draft
	if err := decodeJSON(w, r, &d); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, kindInvalid, err.Error())
		return
	}
	created, err := a.events.Host(r.Context(), st, d)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	_, st, ok := a.actor(w, r)
	if !ok {
		return
	}
	var d events.Draft
	if err := decodeJSON(w, r, &d); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, kindInvalid, err.Error())
		return
	}
	updated, err := a.events.Update(r.Context(), st, r.PathValue("id"), d)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) handleCloseEvent(w http.ResponseWriter, r *http.Request) {
	_, st, ok := a.actor(w, r)
	if !ok {
		return
	}
	closed, err := a.events.Close(r.Context(), st, r.PathValue("id"), confirmed(r))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, closed)
}

func (a *API) handleToggleRegistration(w http.ResponseWriter, r *http.Request) {
	_, st, ok := a.actor(w, r)
	if !ok {
		return
	}
	toggled, err := a.events.ToggleRegistration(r.Context(), st, r.PathValue("id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toggled)
}

func (a *API) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	_, st, ok := a.actor(w, r)
	if !ok {
		return
	}
	if err := a.events.Delete(r.Context(), st, r.PathValue("id"), confirmed(r)); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListGallery(w http.ResponseWriter, r *http.Request) {
	_, st, ok := a.actor(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	section, err := gallery.ParseSection(q.Get("section"))
	if err != nil {
		handleError(w, r, fmt.Errorf("%w: unknown section %q", err, q.Get("section")))
		return
	}
	legendary, _ := strconv.ParseBool(q.Get("legendary"))
	items, err := a.gallery.List(r.Context(), st, section, legendary)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// handleUploadGallery accepts a multipart form with the image in "file".
func (a *API) handleUploadGallery(w http.ResponseWriter, r *http.Request) {
	_, st, ok := a.actor(w, r)
	if !ok {
		return
	}
	up, err := readUpload(r)
	if err != nil {
		handleError(w, r, err)
		return
	}
	item, err := a.gallery.Upload(r.Context(), st, up)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleDeleteGallery(w http.ResponseWriter, r *http.Request) {
	_, st, ok := a.actor(w, r)
	if !ok {
		return
	}
	if err := a.gallery.Delete(r.Context(), st, r.PathValue("id"), confirmed(r)); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readUpload(r *http.Request) (gallery.Upload, error) {
	if err := r.ParseMultipartForm(gallery.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return gallery.Upload{}, fmt.Errorf("%w: upload exceeds %d bytes", gallery.ErrInvalidInput, gallery.MaxUploadBytes)
		}
		return gallery.Upload{}, fmt.Errorf("%w: %v", gallery.ErrInvalidInput, err)
	}
	file, header, err := r.FormFile(uploadField)
	if err != nil {
		return gallery.Upload{}, fmt.Errorf("%w: %s is required", gallery.ErrInvalidInput, uploadField)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, gallery.MaxUploadBytes+1))
	if err != nil {
		return gallery.Upload{}, err
	}

	section, err := gallery.ParseSection(r.FormValue("section"))
	if err != nil {
		return gallery.Upload{}, fmt.Errorf("%w: unknown section %q", err, r.FormValue("section"))
	}
	legendary, _ := strconv.ParseBool(r.FormValue("legendary"))
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return gallery.Upload{
		Title:       strings.TrimSpace(r.FormValue("title")),
		Description: strings.TrimSpace(r.FormValue("description")),
		Section:     section,
		Legendary:   legendary,
		Filename:    header.Filename,
		ContentType: contentType,
		Data:        data,
	}, nil
}

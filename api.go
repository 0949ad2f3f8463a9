/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/secretgift/draw"
	"github.com/Seednode/secretgift/sessions"
)

const (
	maxBodyBytes = 1 << 20
	qrSize       = 320
)

// Machine-readable failure reasons returned in errorResponse.Error.
const (
	reasonNotFound       = "NOT_FOUND"
	reasonPersonNotFound = "PERSON_NOT_FOUND"
	reasonAlreadyClaimed = "ALREADY_CLAIMED"
	reasonNotAvailable   = "NOT_AVAILABLE"
)

type createResponse struct {
	ID string `json:"id"`
}

type claimRequest struct {
	PersonID string `json:"personId"`
}

type claimResponse struct {
	OK bool `json:"ok"`
}

type receiverResponse struct {
	ReceiverID   string `json:"receiverId"`
	ReceiverName string `json:"receiverName"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func report(errs chan<- error, err error) {
	if err == nil {
		return
	}
	select {
	case errs <- err:
	default:
	}
}

func serveCreateSession(cfg *Config, store *sessions.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		var req sessions.CreateRequest
		if err := decodeBody(w, r, &req); err != nil {
			_, err = writeError(cfg, w, http.StatusBadRequest, "Bad Request")
			report(errs, err)
			return
		}

		session, err := store.Create(r.Context(), req)

		var verr *sessions.ValidationError
		switch {
		case errors.As(err, &verr):
			_, err = writeJSON(cfg, w, http.StatusBadRequest, errorResponse{Error: "Bad Request", Fields: verr.FieldErrors})
			report(errs, err)
			return
		case errors.Is(err, draw.ErrInvariant):
			logf(cfg, "ERROR: Draw failed for %s: %v", realIP(r), err)
			_, err = writeError(cfg, w, http.StatusInternalServerError, "Internal Server Error")
			report(errs, err)
			return
		case err != nil:
			_, err = writeError(cfg, w, http.StatusBadRequest, "Bad Request")
			report(errs, err)
			return
		}

		written, err := writeJSON(cfg, w, http.StatusOK, createResponse{ID: session.ID})
		if err != nil {
			report(errs, err)
			return
		}

		logf(cfg, "SERVE: Created session %s (%s) for %s in %s",
			session.ID,
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveGetSession(cfg *Config, store *sessions.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		view, err := store.Get(r.Context(), ps.ByName("id"))
		if err != nil {
			_, err = writeError(cfg, w, http.StatusNotFound, "Not Found")
			report(errs, err)
			return
		}

		_, err = writeJSON(cfg, w, http.StatusOK, view)
		report(errs, err)
	}
}

// claimStatus maps a claim failure to its HTTP status and reason.
func claimStatus(err error) (int, string) {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		return http.StatusNotFound, reasonNotFound
	case errors.Is(err, sessions.ErrParticipantNotFound):
		return http.StatusNotFound, reasonPersonNotFound
	case errors.Is(err, sessions.ErrAlreadyClaimed):
		return http.StatusConflict, reasonAlreadyClaimed
	case errors.Is(err, draw.ErrInvariant):
		return http.StatusInternalServerError, "Internal Server Error"
	default:
		return http.StatusBadRequest, "Bad Request"
	}
}

func serveClaim(cfg *Config, store *sessions.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := ps.ByName("id")

		var req claimRequest
		if err := decodeBody(w, r, &req); err != nil {
			_, err = writeError(cfg, w, http.StatusBadRequest, "Bad Request")
			report(errs, err)
			return
		}
		if req.PersonID == "" {
			_, err := writeError(cfg, w, http.StatusBadRequest, "personId required")
			report(errs, err)
			return
		}

		if err := store.Claim(r.Context(), id, req.PersonID); err != nil {
			status, reason := claimStatus(err)
			if status == http.StatusInternalServerError {
				logf(cfg, "ERROR: Claim in %s failed: %v", id, err)
			}
			_, err = writeError(cfg, w, status, reason)
			report(errs, err)
			return
		}

		logf(cfg, "SERVE: %s claimed %s in %s", realIP(r), req.PersonID, id)

		_, err := writeJSON(cfg, w, http.StatusOK, claimResponse{OK: true})
		report(errs, err)
	}
}

// serveReceiver reveals a giver's receiver. Clients are expected to show it
// once, straight after their own claim; the server does not track reveals.
func serveReceiver(cfg *Config, store *sessions.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		receiver, err := store.ReceiverFor(r.Context(), ps.ByName("id"), ps.ByName("person"))
		if err != nil {
			_, err = writeError(cfg, w, http.StatusNotFound, reasonNotAvailable)
			report(errs, err)
			return
		}

		_, err = writeJSON(cfg, w, http.StatusOK, receiverResponse{
			ReceiverID:   receiver.ID,
			ReceiverName: receiver.Name,
		})
		report(errs, err)
	}
}

// serveQR renders a PNG QR code pointing at the session.
func serveQR(cfg *Config, store *sessions.Store, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if _, err := store.Get(r.Context(), ps.ByName("id")); err != nil {
			_, err = writeError(cfg, w, http.StatusNotFound, "Not Found")
			report(errs, err)
			return
		}

		png, err := qrcode.Encode(sessionURL(cfg, r), qrcode.Medium, qrSize)
		if err != nil {
			_, err = writeError(cfg, w, http.StatusInternalServerError, "qr generation failed")
			report(errs, err)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		_, err = w.Write(png)
		report(errs, err)
	}
}

// sessionURL derives the session's absolute URL from a request to
// .../:id/qr, respecting TLS and X-Forwarded-Proto.
func sessionURL(cfg *Config, r *http.Request) string {
	scheme := cfg.scheme()
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr")
}

// registerSessionAPI sets up:
//   - POST $path                          → create a session
//   - GET  $path/:id                      → public session state
//   - POST $path/:id/claim                → check a participant in
//   - GET  $path/:id/receiver/:person     → reveal a giver's receiver
//   - GET  $path/:id/ws                   → live session state
//   - GET  $path/:id/qr                   → PNG QR code of the session URL
func registerSessionAPI(cfg *Config, path string, mux *httprouter.Router, store *sessions.Store, hubs *HubManager, errs chan<- error) {
	base := cfg.prefix + path

	mux.POST(base, serveCreateSession(cfg, store, errs))
	mux.GET(base+"/:id", serveGetSession(cfg, store, errs))
	mux.POST(base+"/:id/claim", serveClaim(cfg, store, errs))
	mux.GET(base+"/:id/receiver/:person", serveReceiver(cfg, store, errs))
	mux.GET(base+"/:id/ws", serveLive(cfg, store, hubs, errs))
	mux.GET(base+"/:id/qr", serveQR(cfg, store, errs))
}

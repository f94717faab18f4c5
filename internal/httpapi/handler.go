package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"clup/store-service/internal/logger"
	"clup/store-service/internal/models"
	"clup/store-service/internal/store"
)

type AccountService interface {
	LoginWithPhoneNumber(ctx context.Context, phone string) error
	VerifyPhoneNumber(ctx context.Context, phone, code string) error
	GetAccountToken(ctx context.Context, phone string) (string, error)
	ValidateToken(ctx context.Context, token string) (string, error)
	IsTotem(ctx context.Context, userID string) (bool, error)
}

type QueueService interface {
	JoinQueue(ctx context.Context, storeID int64, userID string) (string, error)
	CancelQueueTicket(ctx context.Context, storeID, ticketID int64, userID string) (models.Ticket, error)
	GetQueueData(ctx context.Context, storeID int64) (int64, error)
}

type ReservationService interface {
	MakeReservation(ctx context.Context, storeID, slotID int64, userID string) (string, error)
	CancelReservation(ctx context.Context, storeID, ticketID int64, userID string) (models.Ticket, error)
	GetReservationData(ctx context.Context, storeID int64) ([]models.Timeslot, error)
}

type TicketService interface {
	CheckTicket(ctx context.Context, storeID int64, receiptID string) (bool, error)
	Checkout(ctx context.Context, storeID int64) (int, error)
	GetTicket(ctx context.Context, userID string) (models.TicketView, error)
}

type StoreReader interface {
	GetStore(ctx context.Context, storeID int64) (models.Store, error)
}

type StoreSearch interface {
	Nearby(ctx context.Context, coordinates string) ([]models.StoreDistance, error)
}

type Services struct {
	Accounts     AccountService
	Queue        QueueService
	Reservations ReservationService
	Tickets      TicketService
	Stores       StoreReader
	Search       StoreSearch
}

type Handler struct {
	accounts     AccountService
	queue        QueueService
	reservations ReservationService
	tickets      TicketService
	stores       StoreReader
	search       StoreSearch
	log          logger.ILogger
}

type loginRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type codeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	SMSCode     string `json:"SMSCode"`
}

type leaveQueueRequest struct {
	QueueReceiptID receiptField `json:"queueReceiptId"`
}

type cancelReservationRequest struct {
	ReservationReceiptID receiptField `json:"reservationReceiptId"`
}

type verifyTicketRequest struct {
	ReceiptID receiptField `json:"receiptId"`
}

type errorResponse struct {
	RequestID string        `json:"request_id,omitempty"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(services Services, log logger.ILogger) *Handler {
	return &Handler{
		accounts:     services.Accounts,
		queue:        services.Queue,
		reservations: services.Reservations,
		tickets:      services.Tickets,
		stores:       services.Stores,
		search:       services.Search,
		log:          log,
	}
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/{$}", h.handleRoot)
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/auth/login", h.handleLogin)
	mux.HandleFunc("/api/auth/code", h.handleCode)
	mux.HandleFunc("/api/search/{coordinates}", h.handleSearch)
	mux.HandleFunc("/api/store/{storeId}", h.handleStore)
	mux.HandleFunc("/api/store/{storeId}/queue/join", h.handleJoinQueue)
	mux.HandleFunc("/api/store/{storeId}/queue/leave", h.handleLeaveQueue)
	mux.HandleFunc("/api/store/{storeId}/reservation/timeslots", h.handleTimeslots)
	mux.HandleFunc("/api/store/{storeId}/reservation/book/{timeslotId}", h.handleBook)
	mux.HandleFunc("/api/store/{storeId}/reservation/cancel", h.handleCancelReservation)
	mux.HandleFunc("/api/store/{storeId}/ticket/verify", h.handleVerifyTicket)
	mux.HandleFunc("/api/store/{storeId}/checkout", h.handleCheckout)
	mux.HandleFunc("/api/user/ticket", h.handleUserTicket)
	return mux
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": "CLup API"})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if req.PhoneNumber == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "phoneNumber is required")
		return
	}
	if err := h.accounts.LoginWithPhoneNumber(r.Context(), req.PhoneNumber); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "OK - phoneNumber received"})
}

func (h *Handler) handleCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req codeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.SMSCode = strings.TrimSpace(req.SMSCode)
	if req.PhoneNumber == "" || req.SMSCode == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "phoneNumber and SMSCode are required")
		return
	}
	if err := h.accounts.VerifyPhoneNumber(r.Context(), req.PhoneNumber, req.SMSCode); err != nil {
		h.fail(w, r, err)
		return
	}
	token, err := h.accounts.GetAccountToken(r.Context(), req.PhoneNumber)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authToken": token})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stores, err := h.search.Nearby(r.Context(), r.PathValue("coordinates"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stores)
}

func (h *Handler) handleStore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	storeID, ok := pathID(w, r, "storeId")
	if !ok {
		return
	}
	st, err := h.stores.GetStore(r.Context(), storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	length, err := h.queue.GetQueueData(r.Context(), storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	timeslots, err := h.reservations.GetReservationData(r.Context(), storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.StoreDetail{Store: st, QueueLength: length, Timeslots: timeslots})
}

func (h *Handler) handleJoinQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	storeID, ok := pathID(w, r, "storeId")
	if !ok {
		return
	}
	receipt, err := h.queue.JoinQueue(r.Context(), storeID, userFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"receiptId": receipt})
}

func (h *Handler) handleLeaveQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	storeID, ok := pathID(w, r, "storeId")
	if !ok {
		return
	}
	var req leaveQueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ticketID, err := store.ParseReceiptFor(models.KindQueue, string(req.QueueReceiptID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ticket, err := h.queue.CancelQueueTicket(r.Context(), storeID, ticketID, userFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTimeslots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	storeID, ok := pathID(w, r, "storeId")
	if !ok {
		return
	}
	timeslots, err := h.reservations.GetReservationData(r.Context(), storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, timeslots)
}

func (h *Handler) handleBook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	storeID, ok := pathID(w, r, "storeId")
	if !ok {
		return
	}
	slotID, ok := pathID(w, r, "timeslotId")
	if !ok {
		return
	}
	receipt, err := h.reservations.MakeReservation(r.Context(), storeID, slotID, userFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"receiptId": receipt})
}

func (h *Handler) handleCancelReservation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	storeID, ok := pathID(w, r, "storeId")
	if !ok {
		return
	}
	var req cancelReservationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ticketID, err := store.ParseReceiptFor(models.KindReservation, string(req.ReservationReceiptID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ticket, err := h.reservations.CancelReservation(r.Context(), storeID, ticketID, userFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleVerifyTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	storeID, ok := pathID(w, r, "storeId")
	if !ok {
		return
	}
	totem, err := h.accounts.IsTotem(r.Context(), userFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !totem {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "totem account required")
		return
	}
	var req verifyTicketRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	valid, err := h.tickets.CheckTicket(r.Context(), storeID, string(req.ReceiptID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"isTicketValid": valid})
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	storeID, ok := pathID(w, r, "storeId")
	if !ok {
		return
	}
	occupancy, err := h.tickets.Checkout(r.Context(), storeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"currentOccupancy": occupancy})
}

func (h *Handler) handleUserTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	view, err := h.tickets.GetTicket(r.Context(), userFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// receiptField accepts a receipt id sent either as a JSON string or number.
type receiptField string

func (f *receiptField) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*f = receiptField(strings.TrimSpace(text))
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}
	*f = receiptField(number.String())
	return nil
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeError(w, requestIDFromRequest(r), status, code, message)
}

var errorCodes = []struct {
	err  error
	code string
}{
	{store.ErrStoreNotFound, "store_not_found"},
	{store.ErrTicketNotFound, "ticket_not_found"},
	{store.ErrSlotNotFound, "timeslot_not_found"},
	{store.ErrUserNotFound, "user_not_found"},
	{store.ErrCodeMismatch, "code_mismatch"},
	{store.ErrInvalidPhone, "invalid_phone"},
	{store.ErrInvalidTicketCode, "invalid_ticket_code"},
	{store.ErrInvalidCoordinates, "invalid_coordinates"},
	{store.ErrActiveTicketExists, "active_ticket_exists"},
	{store.ErrInvalidState, "invalid_state"},
	{store.ErrSlotPassed, "timeslot_passed"},
	{store.ErrSlotFull, "timeslot_full"},
	{store.ErrStoreEmpty, "store_empty"},
}

func mapError(err error) (int, string, string) {
	if errors.Is(err, store.ErrTooManyRequests) {
		return http.StatusTooManyRequests, "too_many_requests", store.ErrTooManyRequests.Error()
	}

	var status int
	switch store.KindOf(err) {
	case store.ErrValidation:
		status = http.StatusBadRequest
	case store.ErrInvalidToken:
		return http.StatusUnauthorized, "unauthorized", "invalid token"
	case store.ErrNotFound:
		status = http.StatusNotFound
	case store.ErrConflict:
		status = http.StatusConflict
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}

	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return status, entry.code, entry.err.Error()
		}
	}
	return status, "invalid_request", err.Error()
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"internal_error","message":"internal server error"}}` + "\n"))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

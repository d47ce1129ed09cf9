package api

import (
	"net/http"

	"custodychain/internal/orders"

	"github.com/gorilla/mux"
)

type transitionRequest struct {
	Event     orders.EventKind         `json:"event"`
	Actor     string                   `json:"actor"`
	Transport *orders.TransportDetails `json:"transport,omitempty"`
}

type actorRequest struct {
	Actor string `json:"actor"`
}

type scanRequest struct {
	Code string `json:"code"`
}

type confirmRequest struct {
	Ticket  *orders.DeliveryTicket `json:"ticket"`
	Token   string                 `json:"token"`
	Remarks string                 `json:"remarks"`
}

type verifyDeliveryRequest struct {
	OrderID  string `json:"orderId"`
	Token    string `json:"token"`
	IssuedAt string `json:"issuedAt"`
	Remarks  string `json:"remarks"`
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var in orders.NewOrder
	if err := decodeJSON(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := s.orders.CreateOrder(r.Context(), in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, order)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.orders.GetOrder(r.Context(), mux.Vars(r)["orderId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) transitionOrder(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ev := orders.Event{Kind: req.Event, Transport: req.Transport}
	order, err := s.orders.Transition(r.Context(), mux.Vars(r)["orderId"], ev, orders.Actor{CompanyID: req.Actor})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) reissueToken(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := s.orders.ReissueToken(r.Context(), mux.Vars(r)["orderId"], orders.Actor{CompanyID: req.Actor})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) deliveryCode(w http.ResponseWriter, r *http.Request) {
	code, err := s.orders.DeliveryCode(r.Context(), mux.Vars(r)["orderId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"code": code})
}

func (s *Server) scanDelivery(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	ticket, err := s.orders.ScanDelivery(r.Context(), req.Code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ticket)
}

func (s *Server) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := s.orders.ConfirmDelivery(r.Context(), req.Ticket, req.Token, req.Remarks)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) verifyDelivery(w http.ResponseWriter, r *http.Request) {
	var req verifyDeliveryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := s.orders.VerifyDelivery(r.Context(), req.OrderID, req.Token, req.IssuedAt, req.Remarks)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, order)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.orders.ListAlerts(r.Context(), mux.Vars(r)["orderId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) getTransport(w http.ResponseWriter, r *http.Request) {
	transport, err := s.orders.GetTransport(r.Context(), mux.Vars(r)["transportId"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, transport)
}

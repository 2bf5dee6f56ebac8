package server

import (
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lucaszengool/puppydiary-sub001/internal/auth"
	"github.com/lucaszengool/puppydiary-sub001/internal/orders"
	"github.com/lucaszengool/puppydiary-sub001/internal/protocol"
	"github.com/lucaszengool/puppydiary-sub001/internal/store"
)

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req protocol.OrderRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrValidation, "Invalid request body")
		return
	}

	o, err := s.deps.Orders.Place(r.Context(), auth.FromContext(r.Context()).UserID(), orders.Input{
		ProductID:      req.ProductID,
		ProductName:    req.ProductName,
		ProductType:    req.ProductType,
		Size:           req.Size,
		PriceCents:     int64(math.Round(req.Price * 100)),
		DesignImageURL: req.DesignImageURL,
		Customer: store.Customer{
			Name:    req.CustomerInfo.Name,
			Email:   req.CustomerInfo.Email,
			Phone:   req.CustomerInfo.Phone,
			Address: req.CustomerInfo.Address,
		},
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.PlaceOrderResponse{
		Success: true,
		OrderID: o.OrderID,
		Message: "Order placed",
	})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Orders.ListForUser(r.Context(), auth.FromContext(r.Context()).UserID())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.OrdersResponse{
		Success: true,
		Orders:  ordersJSON(list),
		Total:   len(list),
	})
}

func (s *Server) handleAdminOrders(w http.ResponseWriter, r *http.Request) {
	if !s.checkAdmin(r) {
		writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: "Unauthorized"})
		return
	}
	q := r.URL.Query()
	// Unparseable numbers fall back to the defaults.
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	sum, err := s.deps.Orders.Summarize(r.Context(), orders.Query{
		Status: q.Get("status"),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.AdminOrdersResponse{
		Success: true,
		Orders:  ordersJSON(sum.Orders),
		Stats: protocol.OrderStats{
			TotalOrders:  sum.Stats.TotalOrders,
			TotalRevenue: centsToPrice(sum.Stats.RevenueCents),
			StatusCounts: sum.Stats.StatusCounts,
		},
		Pagination: protocol.Pagination{
			Page:       sum.Page,
			Limit:      sum.Limit,
			Total:      sum.Total,
			TotalPages: sum.TotalPages,
		},
	})
}

func (s *Server) handleAdminUpdateOrder(w http.ResponseWriter, r *http.Request) {
	if !s.checkAdmin(r) {
		writeJSON(w, http.StatusUnauthorized, protocol.ErrorResponse{Error: "Unauthorized"})
		return
	}
	var req protocol.OrderStatusRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrValidation, "Invalid request body")
		return
	}
	o, err := s.deps.Orders.UpdateStatus(r.Context(), chi.URLParam(r, "orderId"), req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.OrderStatusResponse{Success: true, Order: orderJSON(o)})
}

func ordersJSON(list []store.Order) []protocol.Order {
	out := make([]protocol.Order, 0, len(list))
	for _, o := range list {
		out = append(out, orderJSON(o))
	}
	return out
}

func orderJSON(o store.Order) protocol.Order {
	return protocol.Order{
		OrderID:        o.OrderID,
		UserID:         o.UserID,
		ProductID:      o.ProductID,
		ProductName:    o.ProductName,
		ProductType:    o.ProductType,
		Size:           o.Size,
		Price:          centsToPrice(o.PriceCents),
		DesignImageURL: o.DesignImageURL,
		CustomerInfo: protocol.CustomerInfo{
			Name:    o.Customer.Name,
			Email:   o.Customer.Email,
			Phone:   o.Customer.Phone,
			Address: o.Customer.Address,
		},
		Status:    o.Status,
		CreatedAt: formatTime(o.CreatedAt),
		UpdatedAt: formatTime(o.UpdatedAt),
	}
}

func centsToPrice(cents int64) float64 {
	return float64(cents) / 100
}

package api

import (
	"context"
	"net/http"

	"github.com/gfreires/feira/internal/rest"
	"github.com/go-chi/chi/v5"
)

// Catalog is the marketplace listing surface the daemon proxies.
type Catalog interface {
	SearchListings(ctx context.Context, query string, page, limit int) ([]rest.Listing, error)
	Listing(ctx context.Context, id string) (rest.Listing, error)
}

// ListingService proxies catalog queries through the daemon, so the CLI
// reuses the daemon's authenticated session instead of logging in itself.
type ListingService struct {
	catalog Catalog
}

// NewListingService creates a new listing service.
func NewListingService(catalog Catalog) *ListingService {
	return &ListingService{catalog: catalog}
}

// RegisterRoutes mounts the listing endpoints.
func (s *ListingService) RegisterRoutes(r chi.Router) {
	r.Get("/v1/listings", s.searchListings)
	r.Get("/v1/listings/{id}", s.getListing)
}

type listingResponse struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency"`
	SellerID   string `json:"sellerId"`
	CreatedAt  int64  `json:"createdAt"`
}

func toListingResponse(l rest.Listing) listingResponse {
	return listingResponse{
		ID:         l.ID,
		Title:      l.Title,
		PriceCents: l.PriceCents,
		Currency:   l.Currency,
		SellerID:   l.SellerID,
		CreatedAt:  l.CreatedAt.UnixMilli(),
	}
}

func (s *ListingService) searchListings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", 20)

	listings, err := s.catalog.SearchListings(r.Context(), query, page, limit)
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingResponse(l))
	}
	respondJSON(w, http.StatusOK, map[string]any{"listings": out})
}

func (s *ListingService) getListing(w http.ResponseWriter, r *http.Request) {
	l, err := s.catalog.Listing(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, toListingResponse(l))
}

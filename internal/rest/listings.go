package rest

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Listing is one marketplace item.
type Listing struct {
	ID          string
	Title       string
	Description string
	PriceCents  int64
	Currency    string
	SellerID    string
	Images      []string
	CreatedAt   time.Time
}

type listingDTO struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	PriceCents      int64    `json:"priceCents"`
	Currency        string   `json:"currency"`
	SellerID        string   `json:"sellerId"`
	Images          []string `json:"images,omitempty"`
	CreatedAtUnixMs int64    `json:"createdAt"`
}

func (d listingDTO) toListing() Listing {
	return Listing{
		ID:          d.ID,
		Title:       d.Title,
		Description: d.Description,
		PriceCents:  d.PriceCents,
		Currency:    d.Currency,
		SellerID:    d.SellerID,
		Images:      d.Images,
		CreatedAt:   time.UnixMilli(d.CreatedAtUnixMs),
	}
}

type listingsResponse struct {
	Listings []listingDTO `json:"listings"`
}

// SearchListings queries the catalog. An empty query returns the latest
// listings.
func (c *Client) SearchListings(ctx context.Context, query string, page, limit int) ([]Listing, error) {
	path := fmt.Sprintf("/api/listings?page=%d&limit=%d", page, limit)
	if query != "" {
		path += "&q=" + url.QueryEscape(query)
	}
	var resp listingsResponse
	if err := c.getJSON(ctx, path, &resp); err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(resp.Listings))
	for _, d := range resp.Listings {
		out = append(out, d.toListing())
	}
	return out, nil
}

// Listing fetches one item by id.
func (c *Client) Listing(ctx context.Context, id string) (Listing, error) {
	var d listingDTO
	if err := c.getJSON(ctx, "/api/listings/"+url.PathEscape(id), &d); err != nil {
		return Listing{}, err
	}
	return d.toListing(), nil
}

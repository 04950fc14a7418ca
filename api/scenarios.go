/*
scenarios.go - Demo catalogs for development and demonstrations

PURPOSE:

	Populates the store with realistic products and stock history so the
	presentation layer has something to show. Every write goes through the
	Catalog and Engine, so a seeded ledger is as consistent as a real one.

AVAILABLE SCENARIOS:

	auto-parts: Small auto parts shop with purchases and sales
	low-stock:  Products at and below their minimum stock

HOW SCENARIOS WORK:
 1. Register products (initial stock becomes an Inicial movement)
 2. Finalize purchases (Entrada) and sales (Saida) as batches
 3. Optionally deactivate discontinued products

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "auto-parts"}

NOTE:

	Scenarios never delete data. Product codes are fixed, so loading the
	same scenario twice fails with 409 on the duplicate code.

SEE ALSO:
  - handlers.go: Catalog and movement endpoints
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/stock-engine/stock"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse lists the products a scenario created.
type LoadScenarioResponse struct {
	ScenarioID string       `json:"scenario_id"`
	Products   []ProductDTO `json:"products"`
}

type seedProduct struct {
	name, code, brand, application string
	cost, price                    string
	minimum, initial               int64
}

type scenario struct {
	ScenarioDTO
	products  []seedProduct
	purchases [][]seedLine // one batch per purchase
	sales     [][]seedLine // one batch per sale
	retired   []string     // codes deactivated at the end
}

type seedLine struct {
	code  string
	qty   int64
	price string
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "auto-parts",
			Name:        "Auto Parts Shop",
			Description: "Filters, brake pads and oils with a week of purchases and sales",
		},
		products: []seedProduct{
			{"Filtro de óleo", "AP-FO-01", "Tecfil", "Gol 1.0", "18.40", "32.90", 5, 20},
			{"Pastilha de freio dianteira", "AP-PF-02", "Cobreq", "Onix", "64.00", "119.00", 4, 8},
			{"Óleo 5W30 sintético 1L", "AP-OL-03", "Mobil", "", "29.50", "49.90", 12, 36},
			{"Vela de ignição", "AP-VI-04", "NGK", "HB20", "17.00", "29.90", 8, 0},
		},
		purchases: [][]seedLine{
			{{"AP-VI-04", 16, "16.50"}, {"AP-FO-01", 10, "18.10"}},
		},
		sales: [][]seedLine{
			{{"AP-FO-01", 2, "32.90"}, {"AP-OL-03", 4, "49.90"}},
			{{"AP-PF-02", 2, "119.00"}},
			{{"AP-VI-04", 4, "29.90"}, {"AP-FO-01", 1, "32.90"}},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "low-stock",
			Name:        "Low Stock",
			Description: "Products at, below and above their minimum, one discontinued",
		},
		products: []seedProduct{
			{"Correia dentada", "LS-CD-01", "Gates", "Palio", "88.00", "149.00", 3, 3},
			{"Amortecedor traseiro", "LS-AM-02", "Monroe", "Corolla", "210.00", "359.00", 2, 5},
			{"Lâmpada H4", "LS-LH-03", "Philips", "", "21.00", "39.90", 10, 25},
			{"Palheta limpador 18\"", "LS-PL-04", "Bosch", "", "24.00", "44.90", 6, 1},
		},
		sales: [][]seedLine{
			{{"LS-AM-02", 4, "359.00"}},
		},
		retired: []string{"LS-PL-04"},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns all available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, out)
}

// LoadScenario seeds the store with a demo scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sc, ok := findScenario(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown scenario", nil)
		return
	}

	ids, err := h.loadScenario(r.Context(), sc, actor(r))
	if err != nil {
		writeDomainError(w, "Failed to load scenario", err)
		return
	}

	resp := LoadScenarioResponse{ScenarioID: sc.ID, Products: make([]ProductDTO, 0, len(ids))}
	for _, p := range sc.products {
		product, err := h.Query.Product(r.Context(), ids[p.code])
		if err != nil {
			writeDomainError(w, "Failed to load scenario product", err)
			return
		}
		resp.Products = append(resp.Products, toProductDTO(product))
	}

	h.log.Info().Str("scenario", sc.ID).Int("products", len(ids)).Msg("scenario loaded")
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) loadScenario(ctx context.Context, sc scenario, who string) (map[string]stock.ProductID, error) {
	ids := make(map[string]stock.ProductID, len(sc.products))
	for _, p := range sc.products {
		id, err := h.Catalog.Create(ctx, stock.NewProduct{
			ProductDetails: stock.ProductDetails{
				Name:         p.name,
				Code:         p.code,
				Brand:        p.brand,
				Application:  p.application,
				CostPrice:    decimal.RequireFromString(p.cost),
				SalePrice:    decimal.RequireFromString(p.price),
				MinimumStock: p.minimum,
			},
			InitialQuantity: p.initial,
			Actor:           who,
		})
		if err != nil {
			return nil, err
		}
		ids[p.code] = id
	}

	batch := func(lines []seedLine, change func(price decimal.NullDecimal) stock.Change, note string) error {
		reqs := make([]stock.MovementRequest, len(lines))
		for i, l := range lines {
			reqs[i] = stock.MovementRequest{
				ProductID: ids[l.code],
				Quantity:  l.qty,
				Change:    change(decimal.NewNullDecimal(decimal.RequireFromString(l.price))),
				Note:      note,
				Actor:     who,
			}
		}
		_, err := h.Engine.RecordBatch(ctx, reqs)
		return err
	}

	for _, lines := range sc.purchases {
		err := batch(lines, func(p decimal.NullDecimal) stock.Change { return stock.Entry{UnitCost: p} }, "demo purchase")
		if err != nil {
			return nil, err
		}
	}
	for _, lines := range sc.sales {
		err := batch(lines, func(p decimal.NullDecimal) stock.Change { return stock.Exit{UnitSalePrice: p} }, "demo sale")
		if err != nil {
			return nil, err
		}
	}
	for _, code := range sc.retired {
		if err := h.Catalog.Deactivate(ctx, ids[code]); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

package mockbackend

import (
	"fmt"

	"github.com/g960059/opsdash/internal/api"
)

// DemoPassword is accepted for every seeded account.
const DemoPassword = "secret"

type seedSet struct {
	collection string
	records    []map[string]any
}

// Seed loads a small demo data set: one account per role and a handful of
// records in every collection.
func (s *Server) Seed() error {
	for _, p := range []api.Profile{
		{ID: "u-admin", FullName: "Admin", Email: "admin@example.com", Role: "admin"},
		{ID: "u-kho", FullName: "Warehouse Lead", Email: "warehouse@example.com", Role: "warehouse"},
		{ID: "u-sales", FullName: "Sales Rep", Email: "sales@example.com", Role: "sales"},
		{ID: "u-qc", FullName: "QC Inspector", Email: "qc@example.com", Role: "qc"},
		{ID: "u-repair", FullName: "Repair Tech", Email: "repair@example.com", Role: "repair"},
	} {
		s.AddAccount(p.Email, DemoPassword, p)
	}

	sets := []seedSet{
		{"staff", []map[string]any{
			{"fullName": "Nguyen Van An", "email": "an@example.com", "role": "warehouse", "status": "active"},
			{"fullName": "Tran Thi Binh", "email": "binh@example.com", "role": "sales", "status": "active"},
			{"fullName": "Le Van Cuong", "email": "cuong@example.com", "role": "qc", "status": "inactive"},
			{"fullName": "Pham Thi Dung", "email": "dung@example.com", "role": "repair", "status": "active"},
		}},
		{"customers", []map[string]any{
			{"fullName": "Hoang Minh", "email": "minh@example.com", "phone": "0901000001", "tier": "gold"},
			{"fullName": "Vu Lan", "email": "lan@example.com", "phone": "0901000002", "tier": "silver"},
		}},
		{"categories", []map[string]any{
			{"name": "Vegetables", "slug": "vegetables"},
			{"name": "Fruit", "slug": "fruit"},
			{"name": "Herbs", "slug": "herbs", "status": "inactive"},
		}},
		{"products", []map[string]any{
			{"sku": "VEG-001", "name": "Lettuce", "categoryId": "ca-1", "unit": "kg", "price": 25000.0, "stock": 120.0},
			{"sku": "FRU-001", "name": "Dragon fruit", "categoryId": "ca-2", "unit": "kg", "price": 40000.0, "stock": 60.0},
			{"sku": "HRB-001", "name": "Basil", "categoryId": "ca-3", "unit": "bunch", "price": 8000.0, "stock": 0.0, "status": "inactive"},
		}},
		{"harvest-batches", []map[string]any{
			{"batchCode": "HB-2401", "productId": "pr-1", "quantity": 80.0, "unit": "kg", "status": "stored"},
			{"batchCode": "HB-2402", "productId": "pr-2", "quantity": 40.0, "unit": "kg", "status": "pending_qc", "locked": true},
		}},
		{"receipts", []map[string]any{
			{"code": "RC-0001", "type": "import", "total": 2000000.0, "status": "completed"},
			{"code": "RC-0002", "type": "export", "customerId": "cu-1", "total": 750000.0, "status": "draft"},
		}},
		{"discounts", []map[string]any{
			{"code": "TET10", "name": "Lunar new year", "percent": 10.0},
			{"code": "VIP5", "name": "Gold tier", "percent": 5.0, "status": true},
		}},
	}
	for _, set := range sets {
		if err := s.Put(set.collection, set.records...); err != nil {
			return fmt.Errorf("seed %s: %w", set.collection, err)
		}
	}
	return nil
}

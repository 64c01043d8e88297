package api

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// StatusValue accepts the status shapes the backend mixes across domains:
// strings ("active"), booleans (isActive toggles) and numbers.
type StatusValue string

func (s *StatusValue) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*s = ""
		return nil
	}
	if raw[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return err
		}
		*s = StatusValue(str)
		return nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		*s = StatusValue(strconv.FormatBool(b))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return err
	}
	*s = StatusValue(n.String())
	return nil
}

type Staff struct {
	ID        string      `json:"id"`
	FullName  string      `json:"fullName"`
	Email     string      `json:"email"`
	Phone     string      `json:"phone,omitempty"`
	Role      string      `json:"role"`
	Status    StatusValue `json:"status"`
	CreatedAt string      `json:"createdAt,omitempty"`
}

type Customer struct {
	ID        string      `json:"id"`
	FullName  string      `json:"fullName"`
	Email     string      `json:"email,omitempty"`
	Phone     string      `json:"phone,omitempty"`
	Address   string      `json:"address,omitempty"`
	Tier      string      `json:"tier,omitempty"`
	Status    StatusValue `json:"status"`
	CreatedAt string      `json:"createdAt,omitempty"`
}

type Category struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Slug        string      `json:"slug,omitempty"`
	ParentID    string      `json:"parentId,omitempty"`
	Description string      `json:"description,omitempty"`
	Status      StatusValue `json:"status"`
}

type Product struct {
	ID         string      `json:"id"`
	SKU        string      `json:"sku"`
	Name       string      `json:"name"`
	CategoryID string      `json:"categoryId,omitempty"`
	Unit       string      `json:"unit,omitempty"`
	Price      float64     `json:"price"`
	Stock      float64     `json:"stock"`
	ImageURL   string      `json:"imageUrl,omitempty"`
	Status     StatusValue `json:"status"`
}

type HarvestBatch struct {
	ID          string      `json:"id"`
	BatchCode   string      `json:"batchCode"`
	ProductID   string      `json:"productId"`
	Quantity    float64     `json:"quantity"`
	Unit        string      `json:"unit,omitempty"`
	HarvestedAt string      `json:"harvestedAt,omitempty"`
	ExpiresAt   string      `json:"expiresAt,omitempty"`
	Status      StatusValue `json:"status"`
}

type ReceiptLine struct {
	ProductID string  `json:"productId"`
	BatchID   string  `json:"batchId,omitempty"`
	Quantity  float64 `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type Receipt struct {
	ID         string        `json:"id"`
	Code       string        `json:"code"`
	Type       string        `json:"type"`
	CustomerID string        `json:"customerId,omitempty"`
	StaffID    string        `json:"staffId,omitempty"`
	Lines      []ReceiptLine `json:"items,omitempty"`
	Total      float64       `json:"total"`
	Note       string        `json:"note,omitempty"`
	Status     StatusValue   `json:"status"`
	CreatedAt  string        `json:"createdAt,omitempty"`
}

type Discount struct {
	ID       string      `json:"id"`
	Code     string      `json:"code"`
	Name     string      `json:"name,omitempty"`
	Percent  float64     `json:"percent"`
	StartsAt string      `json:"startsAt,omitempty"`
	EndsAt   string      `json:"endsAt,omitempty"`
	Status   StatusValue `json:"status"`
}

// Profile is the signed-in staff member as returned by /auth endpoints.
type Profile struct {
	ID       string `json:"id"`
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResult struct {
	AccessToken string  `json:"accessToken"`
	Role        string  `json:"role"`
	User        Profile `json:"user"`
}

package dto

// GrantOrderRequest payload sent by the checkout collaborator.
type GrantOrderRequest struct {
	OrderID         int64  `json:"order_id"`
	OrderNumber     string `json:"order_number"`
	SubjectIdentity string `json:"subject_identity"`
	SubjectName     string `json:"subject_name"`
	MaxUsage        int    `json:"max_usage"`
	Note            string `json:"note"`
}

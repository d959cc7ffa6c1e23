package model

type ConfirmationInput struct {
	Hostname          string `json:"hostname"`
	InstallationID    string `json:"installation_id"`
	ExtendedProductID string `json:"extended_product_id"`
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

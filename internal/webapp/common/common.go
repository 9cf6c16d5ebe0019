package common

type ApiContextKeyType string

const RequestIdKey ApiContextKeyType = "request_id"

type BasicResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message,omitempty"`
}

type StringResponse struct {
	Value string `json:"value"`
}

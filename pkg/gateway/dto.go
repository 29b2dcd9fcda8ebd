package gateway

type ExecuteRequest struct {
	UserUUID string `json:"user_uuid"`
	Code     string `json:"code"`
}

type ExecuteResponse struct {
	ResultText   *string `json:"result_text"`
	ResultBase64 *string `json:"result_base64"`
}

type ReleaseRequest struct {
	UserUUID string `json:"user_uuid"`
}

type ReleaseResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

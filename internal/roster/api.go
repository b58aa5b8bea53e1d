package roster

// ApiResponse models the top-level structure of the admissions API's response.
type ApiResponse struct {
	Code int `json:"code"`
	Data struct {
		Page     int          `json:"page"`
		PageSize int          `json:"pageSize"`
		Total    int          `json:"total"`
		Items    []ApiStudent `json:"items"`
	} `json:"data"`
}

// ApiStudent is one enrolled student as published by admissions.
type ApiStudent struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Gender        string `json:"gender"`
	ClassName     string `json:"className"`
	AdmissionDate string `json:"admissionDate"` // 2006-01-02 in the configured timezone
}

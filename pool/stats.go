package pool

// Stats 连接池指标快照
type Stats struct {
	Address           string `json:"address"`
	Total             int    `json:"total"`
	Active            int    `json:"active"`
	Idle              int    `json:"idle"`
	Acquired          int64  `json:"acquired"`
	Released          int64  `json:"released"`
	Created           int64  `json:"created"`
	Destroyed         int64  `json:"destroyed"`
	FailedValidations int64  `json:"failed_validations"`
	Hits              int64  `json:"hits"`
	Misses            int64  `json:"misses"`
	Timeouts          int64  `json:"timeouts"`
	Waits             int64  `json:"waits"`
}

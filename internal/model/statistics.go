package model

// StockStats counts items per stock level
type StockStats struct {
	Total      int64 `json:"total"`
	OutOfStock int64 `json:"out_of_stock"`
	LowStock   int64 `json:"low_stock"`
	Adequate   int64 `json:"adequate"`
}

// RequestStats counts material requests per status
type RequestStats struct {
	Pending  int64 `json:"pending"`
	Approved int64 `json:"approved"`
	Rejected int64 `json:"rejected"`
	Total    int64 `json:"total"`
}

// NameCount is a taxonomy entry (category or publisher) with its usage count
type NameCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// PeriodConsumption is the stock drawn by approved requests in one period
type PeriodConsumption struct {
	Period   string `gorm:"column:period" json:"period"`
	Requests int64  `gorm:"column:requests" json:"requests"`
	Units    int64  `gorm:"column:units" json:"units"`
}

// MaterialRanking is a material ordered by units drawn
type MaterialRanking struct {
	MaterialID   string `gorm:"column:material_id" json:"material_id"`
	MaterialName string `gorm:"column:material_name" json:"material_name"`
	Category     string `gorm:"column:category" json:"category"`
	Requests     int64  `gorm:"column:requests" json:"requests"`
	Units        int64  `gorm:"column:units" json:"units"`
}

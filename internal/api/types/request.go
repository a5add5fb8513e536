package types

// PaginationRequest represents pagination parameters in requests
type PaginationRequest struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=500"`
}

// Normalize applies the defaults: page 1, 50 items per page.
func (p *PaginationRequest) Normalize() {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.PageSize == 0 {
		p.PageSize = 50
	}
}

// Offset returns the row offset of the page.
func (p PaginationRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// NewPagination builds the pagination metadata for total rows.
func NewPagination(p PaginationRequest, total int64) *PaginationResponse {
	return &PaginationResponse{
		Page:       p.Page,
		PageSize:   p.PageSize,
		Total:      total,
		TotalPages: int((total + int64(p.PageSize) - 1) / int64(p.PageSize)),
	}
}

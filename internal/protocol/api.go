package protocol

// Actions accepted by POST /api/bones.
const (
	ActionConsume    = "consume"
	ActionAwardShare = "award_share"
)

type BalanceResponse struct {
	Bones           int64   `json:"bones"`
	LastShareReward *string `json:"lastShareReward"`
}

type BonesRequest struct {
	Action string `json:"action"`
	Amount *int64 `json:"amount,omitempty"`
}

type BonesResponse struct {
	Success bool   `json:"success"`
	Bones   int64  `json:"bones"`
	Message string `json:"message"`
}

type BonesError struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Bones int64  `json:"bones"`
}

type QuotaCheckResponse struct {
	CanGenerate     bool `json:"canGenerate"`
	IsRegistered    bool `json:"isRegistered"`
	GenerationsUsed int  `json:"generationsUsed"`
	MaxGenerations  int  `json:"maxGenerations"`
}

type QuotaRecordResponse struct {
	Success         bool `json:"success"`
	IsRegistered    bool `json:"isRegistered"`
	GenerationsUsed int  `json:"generationsUsed"`
	MaxGenerations  int  `json:"maxGenerations"`
}

type QuotaExceededResponse struct {
	Error                string `json:"error"`
	Code                 string `json:"code"`
	RequiresRegistration bool   `json:"requiresRegistration"`
	GenerationsUsed      int    `json:"generationsUsed"`
	MaxGenerations       int    `json:"maxGenerations"`
}

type ShareRequest struct {
	ImageURL    string `json:"imageUrl"`
	Title       string `json:"title"`
	Style       string `json:"style"`
	Description string `json:"description,omitempty"`
}

type BoneReward struct {
	Awarded bool   `json:"awarded"`
	Bones   int64  `json:"bones"`
	Message string `json:"message"`
}

type ShareResponse struct {
	ShareID    string     `json:"shareId"`
	ShareLink  string     `json:"shareLink"`
	BoneReward BoneReward `json:"boneReward"`
}

type ShareRecord struct {
	ShareID     string `json:"shareId"`
	UserID      string `json:"userId"`
	ImageURL    string `json:"imageUrl"`
	ShareLink   string `json:"shareLink"`
	Title       string `json:"title"`
	Style       string `json:"style"`
	Description string `json:"description"`
	ViewCount   int64  `json:"viewCount"`
	CreatedAt   string `json:"createdAt"`
}

type FavoritesRequest struct {
	ArtworkID string `json:"artworkId"`
	Action    string `json:"action"`
}

type FavoritesResponse struct {
	Favorites []string `json:"favorites"`
}

type AuthorizeResponse struct {
	Allowed         bool   `json:"allowed"`
	IsRegistered    bool   `json:"isRegistered"`
	Bones           *int64 `json:"bones,omitempty"`
	GenerationsUsed *int   `json:"generationsUsed,omitempty"`
	MaxGenerations  *int   `json:"maxGenerations,omitempty"`
	Error           string `json:"error,omitempty"`
	Code            string `json:"code,omitempty"`
	RetryAfter      int64  `json:"retryAfter,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// AccountResponse is the admin view of one account.
type AccountResponse struct {
	UserID          string  `json:"userId"`
	Bones           int64   `json:"bones"`
	LastShareReward *string `json:"lastShareReward"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
}

type CustomerInfo struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// OrderRequest is the body of POST /api/orders. Price is in currency units.
type OrderRequest struct {
	ProductID      string       `json:"productId"`
	ProductName    string       `json:"productName"`
	ProductType    string       `json:"productType"`
	Size           string       `json:"size"`
	Price          float64      `json:"price"`
	DesignImageURL string       `json:"designImageUrl"`
	CustomerInfo   CustomerInfo `json:"customerInfo"`
}

type Order struct {
	OrderID        string       `json:"orderId"`
	UserID         string       `json:"userId"`
	ProductID      string       `json:"productId"`
	ProductName    string       `json:"productName"`
	ProductType    string       `json:"productType"`
	Size           string       `json:"size"`
	Price          float64      `json:"price"`
	DesignImageURL string       `json:"designImageUrl"`
	CustomerInfo   CustomerInfo `json:"customerInfo"`
	Status         string       `json:"status"`
	CreatedAt      string       `json:"createdAt"`
	UpdatedAt      string       `json:"updatedAt"`
}

type PlaceOrderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId"`
	Message string `json:"message"`
}

type OrdersResponse struct {
	Success bool    `json:"success"`
	Orders  []Order `json:"orders"`
	Total   int     `json:"total"`
}

type OrderStats struct {
	TotalOrders  int            `json:"totalOrders"`
	TotalRevenue float64        `json:"totalRevenue"`
	StatusCounts map[string]int `json:"statusCounts"`
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type AdminOrdersResponse struct {
	Success    bool       `json:"success"`
	Orders     []Order    `json:"orders"`
	Stats      OrderStats `json:"stats"`
	Pagination Pagination `json:"pagination"`
}

type OrderStatusRequest struct {
	Status string `json:"status"`
}

type OrderStatusResponse struct {
	Success bool  `json:"success"`
	Order   Order `json:"order"`
}

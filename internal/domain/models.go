package domain

import "time"

type PaymentType string

const (
	PaymentCash    PaymentType = "Cash"
	PaymentCredit  PaymentType = "Credit"
	PaymentDigital PaymentType = "Digital"
)

func (p PaymentType) Valid() bool {
	switch p {
	case PaymentCash, PaymentCredit, PaymentDigital:
		return true
	default:
		return false
	}
}

type SaleStatus string

const (
	SaleStatusSales  SaleStatus = "Sales"
	SaleStatusReturn SaleStatus = "Return"
)

func (s SaleStatus) Valid() bool {
	return s == SaleStatusSales || s == SaleStatusReturn
}

// Sign is +1 for a sale and -1 for a return.
func (s SaleStatus) Sign() int64 {
	if s == SaleStatusReturn {
		return -1
	}
	return 1
}

type InputMode string

const (
	InputModeNormal InputMode = "Normal"
	InputModeTest   InputMode = "Test"
)

func (m InputMode) Valid() bool {
	return m == InputModeNormal || m == InputModeTest
}

type TaxClass string

const (
	TaxClassExclusive TaxClass = "exclusive"
	TaxClassInclusive TaxClass = "inclusive"
	// TaxClassNone marks lines without a selling tax class; they land in the tax-free bucket.
	TaxClassNone TaxClass = ""
)

func (c TaxClass) Valid() bool {
	switch c {
	case TaxClassExclusive, TaxClassInclusive, TaxClassNone:
		return true
	default:
		return false
	}
}

const (
	TaxRateFree    = 0
	TaxRateReduced = 8
	TaxRateNormal  = 10
)

// Sale is one finalized register transaction. Once written it is never edited;
// the only allowed transition is deletion through the printer-failure void path.
type Sale struct {
	ID                string      `json:"id"`
	ReceiptNumber     int64       `json:"receiptNumber"`
	ShopCode          string      `json:"shopCode"`
	CreatedAt         time.Time   `json:"createdAt"`
	DetailsCount      int         `json:"detailsCount"`
	SalesTotal        int64       `json:"salesTotal"`
	TaxTotal          int64       `json:"taxTotal"`
	DiscountTotal     int64       `json:"discountTotal"`
	PaymentType       PaymentType `json:"paymentType"`
	CashAmount        int64       `json:"cashAmount"`
	SalesTaxFreeTotal int64       `json:"salesTaxFreeTotal"`
	SalesNormalTotal  int64       `json:"salesNormalTotal"`
	SalesReducedTotal int64       `json:"salesReducedTotal"`
	TaxNormalTotal    int64       `json:"taxNormalTotal"`
	TaxReducedTotal   int64       `json:"taxReducedTotal"`
	Status            SaleStatus  `json:"status"`
	InputMode         InputMode   `json:"inputMode"`
}

type SaleDetail struct {
	SaleID          string     `json:"saleId"`
	Index           int        `json:"index"`
	ProductCode     string     `json:"productCode"`
	ProductName     string     `json:"productName"`
	Abbr            string     `json:"abbr"`
	Kana            string     `json:"kana"`
	Note            string     `json:"note"`
	Hidden          bool       `json:"hidden"`
	Unregistered    bool       `json:"unregistered"`
	SellingPrice    int64      `json:"sellingPrice"`
	CostPrice       int64      `json:"costPrice"`
	AvgCostPrice    int64      `json:"avgCostPrice"`
	SellingTaxClass TaxClass   `json:"sellingTaxClass"`
	StockTaxClass   TaxClass   `json:"stockTaxClass"`
	SellingTax      int        `json:"sellingTax"`
	StockTax        int        `json:"stockTax"`
	SelfMedication  bool       `json:"selfMedication"`
	SupplierCode    string     `json:"supplierCode"`
	NoReturn        bool       `json:"noReturn"`
	Division        string     `json:"division"`
	Quantity        int        `json:"quantity"`
	Discount        int64      `json:"discount"`
	OutputReceipt   bool       `json:"outputReceipt"`
	Status          SaleStatus `json:"status"`
}

// IsDiscountLine reports whether the line is a price reduction rather than merchandise.
func (d SaleDetail) IsDiscountLine() bool {
	return d.ProductCode == "" && d.SellingPrice < 0
}

// SaleDocument is a sale together with its ordered details, the unit that moves
// between the ledger, the shadow journal and the cloud store.
type SaleDocument struct {
	Sale        Sale         `json:"sale"`
	SaleDetails []SaleDetail `json:"saleDetails"`
}

type RegisterSession struct {
	DateString string     `json:"date_string"`
	OpenedAt   time.Time  `json:"opened_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
}

func (s RegisterSession) IsOpen() bool {
	return s.ClosedAt == nil
}

type ProductBulk struct {
	ParentProductCode string `json:"parent_product_code"`
	ParentProductName string `json:"parent_product_name"`
	ChildProductCode  string `json:"child_product_code"`
	ChildProductName  string `json:"child_product_name"`
	Quantity          int    `json:"quantity"`
}

type ProductBundle struct {
	Code            string   `json:"code"`
	Name            string   `json:"name"`
	SellingTaxClass TaxClass `json:"selling_tax_class"`
	SellingTax      int      `json:"selling_tax"`
	Quantity        int      `json:"quantity"`
	Discount        int64    `json:"discount"`
	ProductCodes    []string `json:"product_codes"`
}

// BasketLine is one priced line handed over by the basket editor.
type BasketLine struct {
	ProductCode     string   `json:"product_code"`
	ProductName     string   `json:"product_name"`
	Abbr            string   `json:"abbr,omitempty"`
	Kana            string   `json:"kana,omitempty"`
	Note            string   `json:"note,omitempty"`
	Hidden          bool     `json:"hidden,omitempty"`
	Unregistered    bool     `json:"unregistered,omitempty"`
	SellingPrice    int64    `json:"selling_price"`
	CostPrice       int64    `json:"cost_price,omitempty"`
	AvgCostPrice    int64    `json:"avg_cost_price,omitempty"`
	SellingTaxClass TaxClass `json:"selling_tax_class"`
	SellingTax      int      `json:"selling_tax"`
	StockTaxClass   TaxClass `json:"stock_tax_class,omitempty"`
	StockTax        int      `json:"stock_tax,omitempty"`
	SelfMedication  bool     `json:"self_medication,omitempty"`
	SupplierCode    string   `json:"supplier_code,omitempty"`
	NoReturn        bool     `json:"no_return,omitempty"`
	Division        string   `json:"division"`
	Quantity        int      `json:"quantity"`
	OutputReceipt   bool     `json:"output_receipt"`
}

type RecordSaleRequest struct {
	PaymentType PaymentType  `json:"payment_type"`
	Status      SaleStatus   `json:"status"`
	InputMode   InputMode    `json:"input_mode,omitempty"`
	CashAmount  *int64       `json:"cash_amount,omitempty"`
	Lines       []BasketLine `json:"lines"`
}

type SaleReceipt struct {
	Sale    Sale         `json:"sale"`
	Details []SaleDetail `json:"details"`
	Change  int64        `json:"change"`
}

type QuoteRequest struct {
	Status SaleStatus   `json:"status"`
	Lines  []BasketLine `json:"lines"`
}

type QuoteResponse struct {
	Lines             []BasketLine `json:"lines"`
	SalesTotal        int64        `json:"sales_total"`
	SalesExceptHidden int64        `json:"sales_except_hidden"`
	TaxTotal          int64        `json:"tax_total"`
	TaxNormalTotal    int64        `json:"tax_normal_total"`
	TaxReducedTotal   int64        `json:"tax_reduced_total"`
	UnsupportedRates  []int        `json:"unsupported_rates,omitempty"`
}

type SessionRequest struct {
	Date string `json:"date"`
}

type SessionResponse struct {
	Session RegisterSession `json:"session"`
}

// ReportWindow is a half-open [From, To) range of createdAt values. A zero To
// means the window is still open.
type ReportWindow struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to,omitempty"`
	Source string    `json:"source"`
}

const (
	WindowSourceSession  = "session"
	WindowSourceFallback = "fallback_day"
)

func (w ReportWindow) Contains(t time.Time) bool {
	if t.Before(w.From) {
		return false
	}
	return w.To.IsZero() || t.Before(w.To)
}

type CurrentSessionResponse struct {
	Session *RegisterSession `json:"session,omitempty"`
	Window  ReportWindow     `json:"window"`
}

type SyncStatus struct {
	ShopCode        string    `json:"shop_code"`
	InProgress      bool      `json:"in_progress"`
	LastRunAt       time.Time `json:"last_run_at,omitempty"`
	LastSuccessAt   time.Time `json:"last_success_at,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	Watermark       time.Time `json:"watermark"`
	Pushed          int       `json:"pushed"`
	Pulled          int       `json:"pulled"`
	SkippedExisting int       `json:"skipped_existing"`
}

type ReplayResult struct {
	Files    int `json:"files"`
	Restored int `json:"restored"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

type InputModeRequest struct {
	InputMode  InputMode `json:"input_mode"`
	ManagerPIN string    `json:"manager_pin"`
}

type CredentialRequest struct {
	Value string `json:"value"`
}

type InventoryLevel struct {
	ShopCode    string `json:"shop_code"`
	ProductCode string `json:"product_code"`
	Quantity    int64  `json:"quantity"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ShopCode      string    `json:"shop_code"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	SettingInputMode      = "INPUT_MODE"
	settingSyncPrefix     = "SYNC_DATETIME:"
	settingCredentialPrfx = "CREDENTIAL:"
)

func WatermarkSettingKey(shopCode string) string {
	return settingSyncPrefix + shopCode
}

func CredentialSettingKey(name string) string {
	return settingCredentialPrfx + name
}

package model

import "github.com/shopspring/decimal"

// Wire types shared by the HTTP layer, the stores, and the webhook
// publisher. The solver and allocator keep their own internal types and
// convert at the boundary.

type SolveRequest struct {
	DepotID         string       `json:"depotId"`
	Mode            string       `json:"mode,omitempty"` // minimize_distance (default) or minimize_cost
	TimeBudgetMs    int          `json:"timeBudgetMs,omitempty"`
	SpanCoefficient int64        `json:"spanCoefficient,omitempty"`
	Deliveries      []DeliveryIn `json:"deliveries"`
	Vehicles        []VehicleIn  `json:"vehicles"`
}

type DeliveryIn struct {
	ID             string      `json:"id"`
	CustomerID     string      `json:"customerId,omitempty"`
	CustomerName   string      `json:"customerName,omitempty"`
	Lat            float64     `json:"lat"`
	Lng            float64     `json:"lng"`
	Address        string      `json:"address,omitempty"`
	Demand         float64     `json:"demand"`
	ServiceTimeMin int         `json:"serviceTimeMin,omitempty"`
	Priority       int         `json:"priority,omitempty"`
	TimeWindow     *TimeWindow `json:"timeWindow,omitempty"`
}

type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type VehicleIn struct {
	ID            string  `json:"id"`
	Capacity      float64 `json:"capacity"`
	CostPerKm     float64 `json:"costPerKm,omitempty"`
	MaxDistanceKm float64 `json:"maxDistanceKm"`
}

type SolveResponse struct {
	SolveID   string       `json:"solveId"`
	Status    string       `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	Mode      string       `json:"mode"`
	Objective float64      `json:"objective"`
	ElapsedMs int64        `json:"elapsedMs"`
	Routes    []RouteOut   `json:"routes"`
	Summary   SolveSummary `json:"summary"`
	Stats     SolveStats   `json:"stats"`
}

type RouteOut struct {
	VehicleID           string          `json:"vehicleId"`
	VehicleCapacity     float64         `json:"vehicleCapacity"`
	Stops               []StopOut       `json:"stops"`
	DistanceKm          float64         `json:"distanceKm"`
	Load                float64         `json:"load"`
	CapacityUtilization float64         `json:"capacityUtilization"` // percent
	EstimatedHours      float64         `json:"estimatedHours"`
	CostEstimate        decimal.Decimal `json:"costEstimate"`
}

type StopOut struct {
	ArrivalOrder   int     `json:"arrivalOrder"`
	Kind           string  `json:"kind"` // depot or delivery
	DeliveryID     string  `json:"deliveryId,omitempty"`
	CustomerName   string  `json:"customerName,omitempty"`
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	Demand         float64 `json:"demand"`
	CumulativeLoad float64 `json:"cumulativeLoad"`
	CumulativeKm   float64 `json:"cumulativeKm"`
}

type SolveSummary struct {
	TotalRoutes        int             `json:"totalRoutes"`
	TotalDistanceKm    float64         `json:"totalDistanceKm"`
	TotalLoad          float64         `json:"totalLoad"`
	VehiclesUsed       int             `json:"vehiclesUsed"`
	TotalDeliveries    int             `json:"totalDeliveries"`
	AvgRouteDistanceKm float64         `json:"avgRouteDistanceKm"`
	TotalEstimatedCost decimal.Decimal `json:"totalEstimatedCost"`
}

type SolveStats struct {
	Iterations       int     `json:"iterations"`
	Improvements     int     `json:"improvements"`
	PenaltyRounds    int     `json:"penaltyRounds"`
	PenalizedArcs    int     `json:"penalizedArcs"`
	InitialObjective float64 `json:"initialObjective"`
	FinalObjective   float64 `json:"finalObjective"`
	ConstructionMs   int64   `json:"constructionMs"`
	ImprovementMs    int64   `json:"improvementMs"`
}

type AllocateRequest struct {
	Orders []OrderIn `json:"orders"`
}

type OrderIn struct {
	ID    string        `json:"id"`
	Lat   float64       `json:"lat"`
	Lng   float64       `json:"lng"`
	Items []OrderItemIn `json:"items,omitempty"`
}

type OrderItemIn struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

type AllocationOut struct {
	OrderID              string          `json:"orderId"`
	WarehouseID          string          `json:"warehouseId"`
	WarehouseName        string          `json:"warehouseName,omitempty"`
	DistanceKm           float64         `json:"distanceKm"`
	EstimatedCost        decimal.Decimal `json:"estimatedCost"`
	EstimatedHours       float64         `json:"estimatedHours"`
	WarehouseUtilization float64         `json:"warehouseUtilization"` // percent
}

type AllocationFailure struct {
	OrderID string `json:"orderId"`
	Error   string `json:"error"`
}

type AllocationBatch struct {
	BatchID            string              `json:"batchId"`
	TotalOrders        int                 `json:"totalOrders"`
	Successful         int                 `json:"successfulAllocations"`
	Failed             int                 `json:"failedAllocations"`
	TotalEstimatedCost decimal.Decimal     `json:"totalEstimatedCost"`
	Allocations        []AllocationOut     `json:"allocations"`
	Failures           []AllocationFailure `json:"failures,omitempty"`
	GeneratedAt        string              `json:"generatedAt"`
}

type LocationIn struct {
	ID      string  `json:"id,omitempty"`
	Name    string  `json:"name,omitempty"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
	Kind    string  `json:"kind,omitempty"` // depot, customer or supplier
}

type Location struct {
	ID       string  `json:"id"`
	TenantID string  `json:"tenantId"`
	Name     string  `json:"name,omitempty"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Address  string  `json:"address,omitempty"`
	Kind     string  `json:"kind"`
}

type WarehouseIn struct {
	ID                 string         `json:"id,omitempty"`
	Name               string         `json:"name"`
	Lat                float64        `json:"lat"`
	Lng                float64        `json:"lng"`
	StorageCapacity    float64        `json:"storageCapacity"`
	CurrentUtilization float64        `json:"currentUtilization"`
	Stock              map[string]int `json:"stock,omitempty"` // sku -> units on hand
}

type Warehouse struct {
	ID                 string         `json:"id"`
	TenantID           string         `json:"tenantId"`
	Name               string         `json:"name"`
	Lat                float64        `json:"lat"`
	Lng                float64        `json:"lng"`
	StorageCapacity    float64        `json:"storageCapacity"`
	CurrentUtilization float64        `json:"currentUtilization"`
	Stock              map[string]int `json:"stock,omitempty"`
}

type EstimateOut struct {
	FromLocation     string  `json:"fromLocation"`
	ToLocation       string  `json:"toLocation"`
	DistanceKm       float64 `json:"distanceKm"`
	EstimatedHours   float64 `json:"estimatedHours"`
	EstimatedMinutes float64 `json:"estimatedMinutes"`
	TrafficFactor    float64 `json:"trafficFactor"`
}

// SolutionRecord is the persisted form of a finished solve.
type SolutionRecord struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenantId"`
	Status    string       `json:"status"`
	Reason    string       `json:"reason,omitempty"`
	Mode      string       `json:"mode"`
	Objective float64      `json:"objective"`
	ElapsedMs int64        `json:"elapsedMs"`
	Routes    []RouteOut   `json:"routes"`
	Summary   SolveSummary `json:"summary"`
	CreatedAt string       `json:"createdAt"`
}

// EngineConfig holds tenant-tunable solver and allocator defaults.
type EngineConfig struct {
	TenantID          string  `json:"tenantId"`
	DefaultMode       string  `json:"defaultMode,omitempty"`
	TimeBudgetMs      int     `json:"timeBudgetMs,omitempty"`
	SpanCoefficient   int64   `json:"spanCoefficient,omitempty"`
	AvgSpeedKmh       float64 `json:"avgSpeedKmh,omitempty"`
	CostPerKm         string  `json:"costPerKm,omitempty"` // decimal string
	UtilizationWeight float64 `json:"utilizationWeight,omitempty"`
}

type SubscriptionRequest struct {
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret"`
}

type Subscription struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenantId"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	Secret   string   `json:"secret,omitempty"`
}

package devmate_client

const (
	DefaultBaseURL = "http://localhost:8080"

	// Paths
	healthPath      = "health"
	listPath        = "devices/list"
	addPath         = "devices/add"
	reservePath     = "devices/reserve"
	releasePath     = "devices/release"
	offlinePath     = "devices/offline"
	onlinePath      = "devices/online"
	deletePathStart = "devices/delete/"

	JsonHeader      = "Accept"
	JsonContentType = "application/json"
)

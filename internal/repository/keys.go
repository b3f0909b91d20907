package repository

const (
	KeyAreas         = "areas"
	KeyActiveConfig  = "mqtt-config"
	KeySavedConfigs  = "mqtt-saved-configs"
	KeyHistory       = "noise-history"
	KeyAutoconnect   = "mqtt-autoconnect"
	autoconnectValue = "true"
)

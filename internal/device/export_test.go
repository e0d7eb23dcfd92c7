package device

var (
	ParseDeviceList = parseDeviceList
	ParseSources    = parseSources
	Preferred       = preferred
)

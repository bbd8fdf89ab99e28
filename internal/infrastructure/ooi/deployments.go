package ooi

import "strings"

// Deployment is the fixed metadata of an OOI hydrophone site.
type Deployment struct {
	Code                string
	Latitude            float64
	Longitude           float64
	Depth               int
	ReferenceDesignator string
}

// Deployments lists the hydrophone sites the streamer knows how to cite.
var Deployments = []Deployment{
	{Code: "CE02SHBP", Latitude: 44.6371, Longitude: -124.306, Depth: 79, ReferenceDesignator: "CE02SHBP-LJ01D-06-CTDBPN106"},
	{Code: "CE04OSBP", Latitude: 44.3695, Longitude: -124.954, Depth: 579, ReferenceDesignator: "CE04OSBP-LJ01C-06-DOSTAD108"},
	{Code: "RS01SBPS", Latitude: 44.529, Longitude: -125.3893, Depth: 2906, ReferenceDesignator: "RS01SBPS-PC01A-4C-FLORDD103"},
	{Code: "RS01SLBS", Latitude: 44.5153, Longitude: -125.3898, Depth: 2901, ReferenceDesignator: "RS01SLBS-LJ01A-12-DOSTAD101"},
	{Code: "RS03AXBS", Latitude: 45.8168, Longitude: -129.7543, Depth: 2906, ReferenceDesignator: "RS03AXBS-LJ03A-12-CTDPFB301"},
	{Code: "RS03AXPS", Latitude: 45.8305, Longitude: -129.7535, Depth: 2607, ReferenceDesignator: "RS03AXPS-PC03A-4A-CTDPFA303"},
}

// LookupDeployment returns the first deployment whose code occurs in rawURL.
func LookupDeployment(rawURL string) (Deployment, bool) {
	for _, d := range Deployments {
		if strings.Contains(rawURL, d.Code) {
			return d, true
		}
	}
	return Deployment{}, false
}

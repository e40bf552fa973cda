// Package recurring runs the system-owned interval jobs (random DM outreach,
// image posting). Jobs have no row identity; only their last run is stored.
package recurring

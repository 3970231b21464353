package ajax

// Actions names the admin-ajax actions the backend dispatches on. The zero
// value of each field falls back to DefaultActions.
type Actions struct {
	GetRepos       string `yaml:"get_repos" json:"get_repos"`
	GetReleases    string `yaml:"get_releases" json:"get_releases"`
	TestFile       string `yaml:"test_file" json:"test_file"`
	TestConnection string `yaml:"test_connection" json:"test_connection"`
	ClearCache     string `yaml:"clear_cache" json:"clear_cache"`
	GetRateLimit   string `yaml:"get_rate_limit" json:"get_rate_limit"`
}

// DefaultActions are the action names registered by the WordPress plugin.
var DefaultActions = Actions{
	GetRepos:       "edd_release_deploy_get_repos",
	GetReleases:    "edd_release_deploy_get_releases",
	TestFile:       "edd_release_deploy_test_file",
	TestConnection: "edd_release_deploy_test_connection",
	ClearCache:     "edd_release_deploy_clear_cache",
	GetRateLimit:   "edd_release_deploy_get_rate_limit",
}

// WithDefaults returns a with empty names replaced by DefaultActions.
func (a Actions) WithDefaults() Actions {
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&a.GetRepos, DefaultActions.GetRepos)
	fill(&a.GetReleases, DefaultActions.GetReleases)
	fill(&a.TestFile, DefaultActions.TestFile)
	fill(&a.TestConnection, DefaultActions.TestConnection)
	fill(&a.ClearCache, DefaultActions.ClearCache)
	fill(&a.GetRateLimit, DefaultActions.GetRateLimit)
	return a
}

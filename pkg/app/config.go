package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const configFlagName = "config"

// addConfigFlag registers --config on fs and arranges for the file, the environment and the
// flags to be merged by v before the command runs.
func addConfigFlag(v *viper.Viper, basename string, fs *pflag.FlagSet) *string {
	cfgFile := fs.StringP(configFlagName, "c", "", fmt.Sprintf("Read configuration from the specified file (yaml). Searched in $HOME/.%s and /etc/%s when empty.", basename, basename))

	v.SetEnvPrefix(envPrefix(basename))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	return cfgFile
}

// readConfig loads cfgFile, or the default config file when cfgFile is empty.
// A missing default file is not an error.
func readConfig(v *viper.Viper, basename, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+basename))
		}
		v.AddConfigPath(filepath.Join("/etc", basename))
		v.SetConfigName(basename)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("failed to read configuration file %q: %w", cfgFile, err)
	}

	return nil
}

// envPrefix turns "otapolicy-agent" into "OTAPOLICY_AGENT".
func envPrefix(basename string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(basename))
}

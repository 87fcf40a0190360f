package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcourtman/pkgvisibility/internal/appid"
	"github.com/rcourtman/pkgvisibility/internal/pkgmodel"
)

var (
	queryCaller    string
	queryTarget    string
	queryUser      int
	queryWhitelist bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Evaluate shouldFilter(caller, target), or list every caller that can see target with --whitelist",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery()
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryCaller, "caller", "", "caller package name")
	queryCmd.Flags().StringVar(&queryTarget, "target", "", "target package name")
	queryCmd.Flags().IntVar(&queryUser, "user", 0, "user id evaluating the query")
	queryCmd.Flags().BoolVar(&queryWhitelist, "whitelist", false, "list every caller AppId per user that can see --target instead of checking one caller")
	queryCmd.MarkFlagRequired("target")
}

func runQuery() error {
	userID := appid.UserId(queryUser)
	c, err := wireCore(dataDir, sqlitePath, []appid.UserId{userID})
	if err != nil {
		return err
	}
	defer c.store.Close()

	var callerSetting, targetSetting *pkgmodel.PackageSetting
	var snap *pkgmodel.Snapshot
	c.store.RunWithState(func(s *pkgmodel.Snapshot) {
		snap = s
		callerSetting = s.Lookup(queryCaller)
		targetSetting = s.Lookup(queryTarget)
	})
	if targetSetting == nil {
		return fmt.Errorf("target package %q not found", queryTarget)
	}

	if queryWhitelist {
		whitelist, visibleToAll := c.engine.VisibilityWhitelist(targetSetting, snap)
		if visibleToAll {
			fmt.Println("visible to all (force-queryable)")
			return nil
		}
		fmt.Printf("%v\n", whitelist[userID])
		return nil
	}

	if queryCaller == "" {
		return fmt.Errorf("--caller is required unless --whitelist is set")
	}
	if callerSetting == nil {
		return fmt.Errorf("caller package %q not found", queryCaller)
	}

	callerUid := appid.Encode(userID, callerSetting.AppID)
	filtered := c.engine.ShouldFilter(callerUid, callerSetting, targetSetting, userID)

	fmt.Printf("filtered=%t\n", filtered)
	return nil
}

package main

import (
	"encoding/json"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/qbusiness"
	"github.com/spf13/cobra"

	"github.com/lexcodex/codeanalysis/provisioning"
)

func newProvisionCmd(a *app) *cobra.Command {
	var requestType, appID string
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create, update or delete the Q Business application",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := a.cfg, a.logger
			if cfg.Batch.AppName == "" {
				return errors.New("batch.app_name (or Q_APP_NAME) is required")
			}
			awsCfg, err := loadAWS(cmd.Context())
			if err != nil {
				return err
			}
			handler := provisioning.NewHandler(qbusiness.NewFromConfig(awsCfg), provisioning.Settings{
				AppName:              cfg.Batch.AppName,
				AppRoleARN:           cfg.Knowledge.RoleARN,
				WebExperienceRoleARN: cfg.Provision.WebExperienceRoleARN,
				IdentityCenterARN:    cfg.Provision.IdentityCenterARN,
			}, logger)
			handler.PollInterval = cfg.Provision.PollInterval
			handler.PollAttempts = cfg.Provision.PollAttempts

			resp, err := handler.Handle(cmd.Context(), provisioning.Event{
				RequestType:        requestType,
				PhysicalResourceID: appID,
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
	cmd.Flags().StringVar(&requestType, "request", provisioning.RequestCreate, "Create, Update or Delete")
	cmd.Flags().StringVar(&appID, "app-id", "", "Application id for Update and Delete")
	return cmd
}

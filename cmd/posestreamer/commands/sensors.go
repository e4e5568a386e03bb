package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "List available camera sensors",
	Long:  `List the sensors the configured capture backend can open.`,
	RunE:  runSensors,
}

func init() {
	rootCmd.AddCommand(sensorsCmd)
}

func runSensors(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}

	sensor, err := newSensor(configMgr.Get().Sensor)
	if err != nil {
		return err
	}
	defer sensor.Stop()

	infos, err := sensor.Sensors()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Println("No sensors found.")
		return nil
	}

	fmt.Printf("Backend: %s\n\n", sensor.Name())
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDEVICE\tFACING\tORIENTATION")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", info.ID, info.Device, info.Facing, info.Orientation)
	}
	return w.Flush()
}

// Command roomctl prints the rooms of a running relay as a table.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
)

type roomSummary struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type roomsResponse struct {
	Rooms []roomSummary `json:"rooms"`
}

type participantsResponse struct {
	Participants []string `json:"participants"`
}

func main() {
	server := flag.String("server", "http://127.0.0.1:8080", "Base URL of the relay")
	names := flag.Bool("names", false, "Also list participant names per room")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	base := strings.TrimRight(*server, "/")

	var rooms roomsResponse
	if err := getJSON(client, base+"/api/rooms", &rooms); err != nil {
		log.Fatal("Error while listing rooms: ", err)
	}

	header := []string{"Room", "Participants"}
	if *names {
		header = append(header, "Names")
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	total := 0
	for _, rm := range rooms.Rooms {
		total += rm.Count
		row := []string{rm.Name, strconv.Itoa(rm.Count)}
		if *names {
			var p participantsResponse
			if err := getJSON(client, participantsURL(base, rm.Name), &p); err != nil {
				log.Fatalf("Error while listing participants of %q: %v", rm.Name, err)
			}
			row = append(row, strings.Join(p.Participants, ", "))
		}
		table.Append(row)
	}

	footer := []string{"Total", strconv.Itoa(total)}
	if *names {
		footer = append(footer, "")
	}
	table.SetFooter(footer)
	table.Render()
}

// Room names are already in their escaped form.
func participantsURL(base, room string) string {
	return base + "/api/rooms/" + room + "/participants"
}

func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

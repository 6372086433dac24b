package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/TripPipe/internal/models"
)

const (
	welcomeMessage      = "Welcome to TripPipe! What kind of itinerary would you like? Choose one of: activities, tourist, foodie, custom."
	resetMessage        = "Your trip has been reset. "
	expiredMessage      = "Your previous session has expired, so let's start fresh. "
	genericErrorMessage = "Something went wrong, please try again"
	notReadyMessage     = "Your itinerary isn't ready yet. Please finish setting up your trip first."

	itineraryTypePrompt = "Please choose one of: activities, tourist, foodie, custom."
	travelModeQuestion  = "Great! How will you be getting around? Choose one of: walking, driving, transit, bicycling."
	travelModePrompt    = "Please choose a travel mode: walking, driving, transit or bicycling."
	maxDistanceQuestion = "How far from your hotel are you willing to go, in kilometers?"
	maxDistancePrompt   = "Please enter a positive number of kilometers, for example 2 or 3.5."
	hotelQuestion       = "What's the name or address of your hotel?"
	hotelPrompt         = "Please enter the name or address of your hotel."

	hotelNotFoundMessage   = "I couldn't find that address. Please try a different hotel name or address."
	geocodeFailedMessage   = "I couldn't look up that address right now. Please try again in a moment."
	cuisineMismatchMessage = "None of those match the cuisines near your hotel. "
	noCandidatesMessage    = "I couldn't find any places matching your preferences near your hotel. Try different cuisines, reply \"none\", or say \"start over\"."
	noRouteMessage         = "I couldn't build a route between the places near your hotel. Try different cuisines, reply \"none\", or say \"start over\"."

	closingMessage  = "Great, enjoy your trip! Say \"show itinerary\" anytime to see it again."
	regenFailed     = "I couldn't build a route with that change, so your itinerary is unchanged."
	lastStopMessage = "Your itinerary needs at least one stop, so I can't remove the last one."

	helpMessage = "I didn't understand that. You can say:\n" +
		"- \"no changes\" if the itinerary looks good\n" +
		"- \"remove 2nd stop\"\n" +
		"- \"replace 1st stop with Central Park\" (optionally \"as a museum\")\n" +
		"- \"add Joe's Pizza\" (optionally \"as a restaurant\")\n" +
		"- \"let's drive instead\"\n" +
		"- \"show itinerary\" or \"start over\""
)

var menuHelp = map[string]string{
	"remove a stop":      "To remove a stop, say something like \"remove 2nd stop\".",
	"replace a stop":     "To replace a stop, say something like \"replace 1st stop with Central Park\". Add \"as a museum\" to narrow the search.",
	"add more places":    "To add a place, say something like \"add Joe's Pizza\" or \"add the High Line as a park\".",
	"change travel mode": "To change how you get around, say something like \"let's drive instead\". You can walk, drive, take transit or bike.",
}

func hotelFoundMessage(h models.Hotel) string {
	return fmt.Sprintf("Found your hotel: %s. ", h.FormattedAddress)
}

func cuisinePrompt(cuisines []string) string {
	return fmt.Sprintf("Cuisines near your hotel: %s. Reply with a comma-separated list of the ones you'd like, or \"none\".",
		strings.Join(cuisines, ", "))
}

func itineraryReadyMessage(it *models.Itinerary) string {
	return fmt.Sprintf("Here is your itinerary with %d %s before returning to your hotel. Would you like to make any changes?",
		len(it.Stops)-1, pluralStops(len(it.Stops)-1))
}

func updatedMessage(action string) string {
	return action + " Here is your updated itinerary."
}

func invalidStopMessage(n, count int) string {
	return fmt.Sprintf("There is no stop number %d. Please pick a number between 1 and %d.", n, count)
}

func placeNotFoundMessage(query string) string {
	return fmt.Sprintf("I couldn't find %q near your hotel. Try a different name.", query)
}

func unknownModeMessage(mode string) string {
	return fmt.Sprintf("I don't know the travel mode %q. Try walk, drive, transit or bike.", mode)
}

func pluralStops(n int) string {
	if n == 1 {
		return "stop"
	}
	return "stops"
}
